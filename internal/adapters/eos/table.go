package eos

import (
	"fmt"
	"time"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// table.go — decodificación estricta de las filas de la tabla de subastas.
//
// El contrato devuelve campos loosely-typed (assets como strings con
// sufijo, timestamps naive sin zona). Todo se parsea aquí, en el boundary:
// un campo malformado es un error explícito, nunca un cero por defecto.

// chainTimeLayout es el formato naive del chain API, siempre UTC.
const chainTimeLayout = "2006-01-02T15:04:05"

type chainInfo struct {
	HeadBlockTime string `json:"head_block_time"`
	HeadBlockNum  uint32 `json:"head_block_num"`
}

type tableRowsRequest struct {
	JSON  bool   `json:"json"`
	Code  string `json:"code"`
	Scope string `json:"scope"`
	Table string `json:"table"`
	Limit int    `json:"limit"`
}

type tableRowsResponse struct {
	Rows []auctionRow `json:"rows"`
	More bool         `json:"more"`
}

// auctionRow es la fila cruda de la tabla `auctions` del contrato.
type auctionRow struct {
	ID            uint64 `json:"id"`
	Type          uint32 `json:"type"`
	RemainingBids uint32 `json:"remaining_bid_count"`
	InitBids      uint32 `json:"init_bid_count"`
	LastBidder    string `json:"last_bidder"`
	BidPrice      string `json:"bid_price"`
	PrizePool     string `json:"prize_pool"`
	Expires       string `json:"expires"`
	CreatedAt     string `json:"created_at"`
	DurationSecs  uint32 `json:"duration_secs"`
}

type replaceParams struct {
	Type          uint32 `json:"type"`
	InitBidCount  uint32 `json:"init_bid_count"`
	BidPrice      string `json:"bid_price"`
	InitPrizePool string `json:"init_prize_pool"`
	DurationSecs  uint32 `json:"duration_secs"`
}

type payoutAction struct {
	Contract  string         `json:"contract"`
	Name      string         `json:"name"`
	AuctionID uint64         `json:"auction_id"`
	Replace   *replaceParams `json:"replace,omitempty"`
}

type pushResponse struct {
	TransactionID string `json:"transaction_id"`
	BlockNum      uint32 `json:"block_num"`
}

// toDomain convierte la fila cruda en una Auction tipada.
func (r auctionRow) toDomain() (domain.Auction, error) {
	if r.DurationSecs == 0 {
		return domain.Auction{}, fmt.Errorf("auction %d: zero duration", r.ID)
	}
	if r.RemainingBids > r.InitBids {
		return domain.Auction{}, fmt.Errorf("auction %d: remaining %d > init %d", r.ID, r.RemainingBids, r.InitBids)
	}

	price, err := domain.ParseAsset(r.BidPrice)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction %d: bid_price: %w", r.ID, err)
	}
	pool, err := domain.ParseAsset(r.PrizePool)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction %d: prize_pool: %w", r.ID, err)
	}

	expires, err := parseChainTime(r.Expires)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction %d: expires: %w", r.ID, err)
	}
	created, err := parseChainTime(r.CreatedAt)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction %d: created_at: %w", r.ID, err)
	}

	return domain.Auction{
		ID:            r.ID,
		Type:          r.Type,
		RemainingBids: r.RemainingBids,
		InitialBids:   r.InitBids,
		LastBidder:    r.LastBidder,
		BidPrice:      price,
		PrizePool:     pool,
		ExpiresAt:     expires,
		CreatedAt:     created,
		DurationSecs:  r.DurationSecs,
		Status:        domain.StatusActive,
		Iteration:     1,
	}, nil
}

// parseChainTime parsea el timestamp naive del chain API como UTC.
// Acepta fracción de segundo opcional (".500").
func parseChainTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty chain timestamp")
	}
	if t, err := time.ParseInLocation(chainTimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(chainTimeLayout+".000", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed chain timestamp %q", s)
	}
	return t, nil
}
