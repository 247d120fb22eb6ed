package ports

import (
	"context"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// Notifier difunde los eventos de transición a los clientes conectados.
// Cada implementación estampa el timestamp de servidor al emitir.
type Notifier interface {
	AuctionAdded(ctx context.Context, a domain.Auction) error
	AuctionChanged(ctx context.Context, a domain.Auction, previousPrice domain.Asset) error
	AuctionEnded(ctx context.Context, a domain.Auction) error
	AuctionRemoved(ctx context.Context, a domain.Auction) error
	AuctionWinner(ctx context.Context, rec domain.AuctionRecord) error

	// HarpoonRotated anuncia el nuevo commitment hash tras un miss, junto
	// con el historial completo de intentos para transparencia.
	HarpoonRotated(ctx context.Context, auctionID uint64, newHash string, attempts []domain.HarpoonAttempt) error

	// HarpoonResult anuncia el resultado de un intento individual.
	HarpoonResult(ctx context.Context, att domain.HarpoonAttempt) error
}
