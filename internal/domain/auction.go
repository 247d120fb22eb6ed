package domain

import "time"

// AuctionStatus es el estado del ciclo de vida de una subasta.
// Solo transiciona active → ended → paid, salvo el restart sintético
// de lanes sin actividad, que vuelve a active con una Iteration nueva.
type AuctionStatus string

const (
	StatusActive AuctionStatus = "active"
	StatusEnded  AuctionStatus = "ended"
	StatusPaid   AuctionStatus = "paid"
)

// StealOdds son las probabilidades de robo de un participante:
// cuántas cuentas elegibles pujaron más recientemente que él, y su
// probabilidad de éxito en [0,1).
type StealOdds struct {
	AheadOf int
	Odds    float64
}

// Auction es la vista en memoria de una subasta observada en el ledger.
// La identidad estable entre polls es el lane (Type), no el ID: el ID
// cambia cada vez que el contrato reinicia la subasta.
type Auction struct {
	ID            uint64
	Type          uint32
	RemainingBids uint32
	InitialBids   uint32
	LastBidder    string
	BidPrice      Asset
	PrizePool     Asset
	ExpiresAt     time.Time
	CreatedAt     time.Time
	DurationSecs  uint32
	Status        AuctionStatus

	// Iteration cuenta los restarts sintéticos de un lane sin pujas que el
	// propio ledger no rota (evita una transacción de payout desperdiciada).
	Iteration uint32

	// EndedPolls es el contador de debounce: decae por cada poll consecutivo
	// en que la subasta se observa terminada; solo al llegar a 0 se trata
	// como final. Absorbe lecturas stale del ledger.
	EndedPolls int

	// RemovedPolls cuenta los polls en que el lane lleva desaparecido del
	// ledger (soak window antes de descartarlo de verdad).
	RemovedPolls int

	// Odds por cuenta elegible para el mecanismo de robo (harpoon).
	Odds map[string]StealOdds

	// Metadata de fairness, adjuntada lazy por el harpoon engine.
	ServerSeedHash string
	ClientSeed     string
}

// ZeroBids devuelve true si nadie ha pujado todavía en esta subasta.
func (a Auction) ZeroBids() bool {
	return a.RemainingBids == a.InitialBids
}

// Expired devuelve true si el timer de la subasta pasó respecto al head time.
func (a Auction) Expired(head time.Time) bool {
	return head.After(a.ExpiresAt)
}

// BidCount devuelve las pujas consumidas hasta ahora.
func (a Auction) BidCount() uint32 {
	if a.RemainingBids > a.InitialBids {
		return 0
	}
	return a.InitialBids - a.RemainingBids
}

// Duration devuelve la duración del timer como time.Duration.
func (a Auction) Duration() time.Duration {
	return time.Duration(a.DurationSecs) * time.Second
}

// ChangedAuction es una subasta clasificada como "changed" junto con el
// precio anterior, para notificaciones basadas en deltas.
type ChangedAuction struct {
	Auction       Auction
	PreviousPrice Asset
}

// TransitionSet es el resultado clasificado de un ciclo de poll.
type TransitionSet struct {
	Added   []Auction
	Changed []ChangedAuction
	Ended   []Auction
	Removed []Auction
}

// Empty devuelve true si el ciclo no produjo ninguna transición.
func (t TransitionSet) Empty() bool {
	return len(t.Added) == 0 && len(t.Changed) == 0 &&
		len(t.Ended) == 0 && len(t.Removed) == 0
}

// AuctionRecord es la fila durable de una subasta en el store. Se crea como
// ancla de idempotencia antes de tocar el ledger y se completa con los
// campos financieros tras un payout exitoso.
type AuctionRecord struct {
	AuctionID uint64
	TypeID    uint32
	Winner    string
	PrizePool Asset
	BidCount  uint32
	Iteration uint32
	HasSteal  bool
	TxID      string
	BlockNum  uint32
	EndedAt   time.Time
	PaidAt    time.Time
}

// Paid devuelve true si la fila ya registra un payout finalizado.
func (r AuctionRecord) Paid() bool {
	return r.TxID != ""
}

// PayoutReceipt es el recibo de una transacción de payout finalizada.
type PayoutReceipt struct {
	TxID     string
	BlockNum uint32
}

// ReplacementParams son los parámetros on-chain con los que un lane
// reinicia como un tipo distinto (variante replace-parameters del payout).
type ReplacementParams struct {
	TypeID        uint32
	InitBidCount  uint32
	BidPrice      Asset
	InitPrizePool Asset
	DurationSecs  uint32
}

// AuctionTypeConfig es la configuración semi-estática por lane, refrescada
// periódicamente desde el store (no la posee el reconciler).
type AuctionTypeConfig struct {
	TypeID            uint32
	NextTypeID        uint32
	HarpoonOddsBudget float64
	MinBids           uint32
	Params            *ReplacementParams
}

// Replaces devuelve true si el lane debe reiniciar como otro tipo.
func (c AuctionTypeConfig) Replaces() bool {
	return c.NextTypeID != 0 && c.NextTypeID != c.TypeID
}

// LedgerSnapshot es una lectura lógicamente consistente del ledger:
// head time + tabla completa de subastas vigentes.
type LedgerSnapshot struct {
	HeadTime time.Time
	Auctions []Auction
}
