package ports

import (
	"context"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// Ledger es el boundary con la blockchain: lecturas de estado y envío de
// payouts. El ledger es la única fuente de verdad del estado de las
// subastas; este proceso nunca lo bloquea ni recibe eventos push de él.
type Ledger interface {
	// Snapshot lee el head time y la tabla completa de subastas vigentes
	// como una lectura lógicamente consistente. Cualquier fallo invalida
	// el snapshot entero.
	Snapshot(ctx context.Context) (domain.LedgerSnapshot, error)

	// SubmitPayout envía la transacción de payout-y-restart de la subasta.
	// Con replace != nil el lane reinicia como otro tipo con esos
	// parámetros; con nil, rollover del mismo lane.
	SubmitPayout(ctx context.Context, auctionID uint64, replace *domain.ReplacementParams) (domain.PayoutReceipt, error)
}
