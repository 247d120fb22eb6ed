package ports

import (
	"context"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// Store es el registro durable de subastas, pujas, seeds e intentos de
// robo. Es el único recurso compartido con otros componentes del sistema
// (p. ej. un scanner histórico): toda escritura cruzada sobre la misma
// fila debe ser un lookup idempotente por clave, nunca un insert ciego.
type Store interface {
	// EnsureAuctionRecord inserta la fila de la subasta solo si no existe
	// (ancla de idempotencia del payout).
	EnsureAuctionRecord(ctx context.Context, rec domain.AuctionRecord) error

	// FinalizeAuctionRecord completa los campos financieros de la fila
	// tras un payout exitoso.
	FinalizeAuctionRecord(ctx context.Context, rec domain.AuctionRecord) error

	// AuctionRecord devuelve la fila durable, o nil si no existe.
	AuctionRecord(ctx context.Context, auctionID uint64) (*domain.AuctionRecord, error)

	// InsertBid añade una puja observada (append-only).
	InsertBid(ctx context.Context, bid domain.Bid) error

	// BidsForAuction devuelve el historial de pujas ordenado por sequence.
	BidsForAuction(ctx context.Context, auctionID uint64) ([]domain.Bid, error)

	// ServerSeed devuelve la fila de seed de la subasta, o nil si no existe.
	ServerSeed(ctx context.Context, auctionID uint64) (*domain.ServerSeed, error)

	// UpsertServerSeed crea o reemplaza la única fila de seed por subasta.
	UpsertServerSeed(ctx context.Context, seed domain.ServerSeed) error

	// InsertAttempt añade un intento de robo resuelto (append-only).
	InsertAttempt(ctx context.Context, att domain.HarpoonAttempt) error

	// AttemptsForAuction devuelve todos los intentos de la subasta en orden
	// de inserción.
	AttemptsForAuction(ctx context.Context, auctionID uint64) ([]domain.HarpoonAttempt, error)

	// HasHarpooned devuelve true si la cuenta ya falló un intento en esta
	// subasta (un solo miss permitido por cuenta).
	HasHarpooned(ctx context.Context, auctionID uint64, account string) (bool, error)

	// MissedAccounts devuelve las cuentas con un miss registrado en la
	// subasta (excluidas del cálculo de odds).
	MissedAccounts(ctx context.Context, auctionID uint64) ([]string, error)

	// PromotePendingAttempt transiciona el intento pending de la subasta a
	// success una vez observado el payout finalizado.
	PromotePendingAttempt(ctx context.Context, auctionID uint64) error

	// TypeConfigs devuelve la configuración por lane (lectura bulk
	// periódica; el reconciler la cachea).
	TypeConfigs(ctx context.Context) ([]domain.AuctionTypeConfig, error)

	// Close cierra la conexión limpiamente.
	Close() error
}
