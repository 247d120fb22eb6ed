package payout

// orchestrator.go — single-flight, crash-safe "pay the winner and restart"
// workflow. One submission per auction id at a time, and at most one
// submission per spacing window across auctions: the external ledger only
// tolerates one outstanding deferred transaction against the escrow
// account without risking nonce/ordering conflicts. Duplicate protection
// is the outstanding guard + the durable idempotency anchor + the ledger's
// own duplicate-transaction rejection, in that order.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
	"github.com/cryptosports721/eostime-sub000/internal/ports"
)

const winnersCap = 20

// Orchestrator drives payout submission for ended auctions.
type Orchestrator struct {
	ledger   ports.Ledger
	store    ports.Store
	notifier ports.Notifier
	spacing  time.Duration

	mu          sync.Mutex
	outstanding map[uint64]struct{}
	paid        map[uint64]struct{}
	lastSubmit  time.Time
	winners     []domain.AuctionRecord
}

// New creates an orchestrator. spacing is the minimum gap between payout
// submissions for different auctions (zero-bid payouts are exempt).
func New(ledger ports.Ledger, store ports.Store, notifier ports.Notifier, spacing time.Duration) *Orchestrator {
	return &Orchestrator{
		ledger:      ledger,
		store:       store,
		notifier:    notifier,
		spacing:     spacing,
		outstanding: make(map[uint64]struct{}),
		paid:        make(map[uint64]struct{}),
	}
}

// Outstanding reports whether a payout for the auction is in flight.
func (o *Orchestrator) Outstanding(auctionID uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.outstanding[auctionID]
	return ok
}

// Paid reports whether the auction's payout already finalized.
func (o *Orchestrator) Paid(auctionID uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.paid[auctionID]
	return ok
}

// CanSubmit reports whether the spacing throttle allows a new submission.
// Zero-bid payouts move no real value, so parallelizing them is free.
func (o *Orchestrator) CanSubmit(zeroBid bool) bool {
	if zeroBid {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Since(o.lastSubmit) >= o.spacing
}

// RecentWinners returns the bounded recent-winners list, newest first.
func (o *Orchestrator) RecentWinners() []domain.AuctionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.AuctionRecord, len(o.winners))
	copy(out, o.winners)
	return out
}

// Payout submits the payout-and-restart transaction for an ended auction
// exactly once. Concurrent calls for the same auction id collapse into
// one submission; a failed submission clears the guard and the auction is
// retried on the next qualifying poll cycle.
func (o *Orchestrator) Payout(ctx context.Context, a domain.Auction, cfgs map[uint32]domain.AuctionTypeConfig) error {
	o.mu.Lock()
	if _, inflight := o.outstanding[a.ID]; inflight {
		o.mu.Unlock()
		return nil
	}
	if _, done := o.paid[a.ID]; done {
		o.mu.Unlock()
		return nil
	}
	o.outstanding[a.ID] = struct{}{}
	zeroBid := a.ZeroBids()
	if !zeroBid {
		// Zero-bid payouts do not reset the throttle: no value moved.
		o.lastSubmit = time.Now()
	}
	o.mu.Unlock()

	// The guard clears on every exit path, success or failure.
	defer func() {
		o.mu.Lock()
		delete(o.outstanding, a.ID)
		o.mu.Unlock()
	}()

	replace := o.replacement(a, cfgs)

	hasSteal, err := o.hasPendingSteal(ctx, a.ID)
	if err != nil {
		return err
	}

	rec := domain.AuctionRecord{
		AuctionID: a.ID,
		TypeID:    a.Type,
		Winner:    a.LastBidder,
		PrizePool: a.PrizePool,
		BidCount:  a.BidCount(),
		Iteration: a.Iteration,
		HasSteal:  hasSteal,
		EndedAt:   a.ExpiresAt,
	}

	// Idempotency anchor before touching the ledger: looked up by key,
	// never blindly inserted, so a process restart mid-payout (or a
	// concurrent historical scanner) cannot double-record this auction.
	if err := o.store.EnsureAuctionRecord(ctx, rec); err != nil {
		return fmt.Errorf("payout.Payout: anchor auction %d: %w", a.ID, err)
	}

	receipt, err := o.ledger.SubmitPayout(ctx, a.ID, replace)
	if err != nil {
		slog.Warn("payout submission failed, will retry next qualifying cycle",
			"auction", a.ID, "type", a.Type, "err", err)
		return fmt.Errorf("payout.Payout: submit auction %d: %w", a.ID, err)
	}

	rec.TxID = receipt.TxID
	rec.BlockNum = receipt.BlockNum
	rec.PaidAt = time.Now().UTC()
	if err := o.store.FinalizeAuctionRecord(ctx, rec); err != nil {
		return fmt.Errorf("payout.Payout: finalize auction %d: %w", a.ID, err)
	}

	if hasSteal {
		if err := o.store.PromotePendingAttempt(ctx, a.ID); err != nil {
			slog.Warn("failed to promote pending steal attempt", "auction", a.ID, "err", err)
		}
	}

	o.mu.Lock()
	o.paid[a.ID] = struct{}{}
	if !zeroBid {
		// No real transfer happened on a zero-bid payout — keep it out of
		// the winners list.
		o.winners = append([]domain.AuctionRecord{rec}, o.winners...)
		if len(o.winners) > winnersCap {
			o.winners = o.winners[:winnersCap]
		}
	}
	o.mu.Unlock()

	if err := o.notifier.AuctionWinner(ctx, rec); err != nil {
		slog.Warn("notifier error", "err", err)
	}

	slog.Info("payout finalized", "auction", a.ID, "type", a.Type,
		"winner", rec.Winner, "prize", rec.PrizePool.String(),
		"tx", rec.TxID, "steal", hasSteal, "zero_bid", zeroBid)
	return nil
}

// replacement resolves the successor lane parameters: when the lane's
// config names a different next type, the payout restarts the auction as
// that lane using its stored chain parameters.
func (o *Orchestrator) replacement(a domain.Auction, cfgs map[uint32]domain.AuctionTypeConfig) *domain.ReplacementParams {
	cfg, ok := cfgs[a.Type]
	if !ok || !cfg.Replaces() {
		return nil
	}
	next, ok := cfgs[cfg.NextTypeID]
	if !ok || next.Params == nil {
		slog.Warn("next lane has no stored parameters, restarting same lane",
			"type", a.Type, "next_type", cfg.NextTypeID)
		return nil
	}
	return next.Params
}

// hasPendingSteal reports whether this payout settles a harpoon hit.
func (o *Orchestrator) hasPendingSteal(ctx context.Context, auctionID uint64) (bool, error) {
	attempts, err := o.store.AttemptsForAuction(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("payout.Payout: attempts for auction %d: %w", auctionID, err)
	}
	for _, att := range attempts {
		if att.Status == domain.AttemptPending {
			return true, nil
		}
	}
	return false, nil
}
