package domain

import "time"

// Bid es una puja observada en el ledger. Inmutable: se inserta una vez
// por evento de puja y nunca se modifica.
type Bid struct {
	AuctionID uint64
	Bidder    string
	Price     Asset
	// Sequence ordena las pujas dentro de una subasta (pujas consumidas
	// en el momento de observarla: 1, 2, 3...).
	Sequence uint64
	PlacedAt time.Time
}
