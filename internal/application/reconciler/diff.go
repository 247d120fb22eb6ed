package reconciler

// diff.go — one poll cycle: fetch → diff → enrich → broadcast → payout.
//
// Lane identity (not auction id) matches ledger rows to in-memory lanes:
// the contract assigns a fresh id every restart, but at most one auction
// runs per lane at a time. Stale single-poll reads are absorbed by two
// counters, the ended debounce and the removed soak window, so no
// transition fires off one glitched snapshot. Transitions broadcast only
// after enrichment, so every emitted view carries the same display pool,
// odds and fairness metadata as the authoritative set.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// cycleEvents collects one cycle's transitions by lane so they can be
// broadcast after enrichment with fully-populated views.
type cycleEvents struct {
	added   []uint32
	changed []laneChange
	ended   []uint32
}

type laneChange struct {
	lane      uint32
	prevPrice domain.Asset
}

// Poll executes exactly one reconciliation cycle and returns the
// classified transitions. A ledger failure aborts the cycle before any
// in-memory mutation.
func (r *Reconciler) Poll(ctx context.Context) (domain.TransitionSet, error) {
	snap, err := r.ledger.Snapshot(ctx)
	if err != nil {
		return domain.TransitionSet{}, fmt.Errorf("reconciler.Poll: snapshot: %w", err)
	}

	cfgs := r.typeConfigs(ctx)

	// Index ledger rows by lane; iterate in type order for determinism.
	rows := make(map[uint32]domain.Auction, len(snap.Auctions))
	for _, row := range snap.Auctions {
		rows[row.Type] = row
	}
	order := make([]uint32, 0, len(rows))
	for t := range rows {
		order = append(order, t)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var ev cycleEvents
	var ts domain.TransitionSet
	next := make(map[uint32]*domain.Auction, len(rows))

	for _, t := range order {
		row := rows[t]
		cur := r.lanes[t]

		if cur == nil {
			a := row
			a.EndedPolls = r.cfg.EndedDebounce
			next[t] = &a
			ev.added = append(ev.added, t)
			continue
		}

		next[t] = r.classifyLane(ctx, row, cur, cfgs, snap, &ev)
	}

	// Lanes missing from the ledger soak for a few cycles before being
	// dropped for good: a single absent read is usually a glitch. The soak
	// counter bumps on a copy, never on the published lane.
	removedTypes := make([]uint32, 0)
	for t := range r.lanes {
		if _, ok := rows[t]; !ok {
			removedTypes = append(removedTypes, t)
		}
	}
	sort.Slice(removedTypes, func(i, j int) bool { return removedTypes[i] < removedTypes[j] })
	for _, t := range removedTypes {
		c := *r.lanes[t]
		c.RemovedPolls++
		if c.RemovedPolls <= r.cfg.RemovedSoak {
			next[t] = &c
			continue
		}
		ts.Removed = append(ts.Removed, c)
	}

	// Display prize pool for non-ended auctions includes the in-flight
	// bid's net contribution, so clients see the pool as it will look
	// immediately after that bid settles.
	for _, a := range next {
		if a.Status == domain.StatusActive && !a.ZeroBids() {
			if pool, err := a.PrizePool.Add(a.BidPrice.MulFloat(1 - r.cfg.HouseCutRate)); err == nil {
				a.PrizePool = pool
			}
		}
	}

	r.enrich(ctx, next, cfgs)

	// Fan-in barrier passed: swap the authoritative set under the lanes
	// guard so concurrent readers never see a partially-enriched view.
	r.mu.Lock()
	r.lanes = next
	r.mu.Unlock()

	// Broadcast with the enriched views.
	for _, t := range ev.added {
		a := *next[t]
		ts.Added = append(ts.Added, a)
		if err := r.notifier.AuctionAdded(ctx, a); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	for _, ch := range ev.changed {
		a := *next[ch.lane]
		ts.Changed = append(ts.Changed, domain.ChangedAuction{Auction: a, PreviousPrice: ch.prevPrice})
		if err := r.notifier.AuctionChanged(ctx, a, ch.prevPrice); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	for _, t := range ev.ended {
		a := *next[t]
		ts.Ended = append(ts.Ended, a)
		if err := r.notifier.AuctionEnded(ctx, a); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
	for _, a := range ts.Removed {
		if err := r.notifier.AuctionRemoved(ctx, a); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}

	r.dispatchPayout(ctx, cfgs)

	return ts, nil
}

// classifyLane diffs one ledger row against its in-memory lane.
func (r *Reconciler) classifyLane(
	ctx context.Context,
	row domain.Auction,
	cur *domain.Auction,
	cfgs map[uint32]domain.AuctionTypeConfig,
	snap domain.LedgerSnapshot,
	ev *cycleEvents,
) *domain.Auction {
	a := row

	// Carry lifecycle state across polls.
	a.Iteration = cur.Iteration
	a.EndedPolls = cur.EndedPolls
	a.Status = cur.Status
	a.Odds = cur.Odds
	a.ServerSeedHash = cur.ServerSeedHash
	a.ClientSeed = cur.ClientSeed

	changed := false

	if a.ID != cur.ID {
		// The ledger restarted this lane as a new auction: fresh lifecycle.
		a.Iteration = 1
		a.EndedPolls = r.cfg.EndedDebounce
		a.Status = domain.StatusActive
		a.Odds = nil
		a.ServerSeedHash = ""
		a.ClientSeed = ""
		changed = true
	} else if a.RemainingBids < cur.RemainingBids {
		changed = true
		r.persistBid(ctx, a, snap)
	}

	cfg, hasCfg := r.laneConfig(cfgs, a.Type)

	switch {
	case a.Status == domain.StatusActive && !a.ZeroBids() && r.pendingSteal(ctx, a.ID):
		// A settled steal hit locks the winner in immediately: the auction
		// ends for payout no matter how much timer or how many bids remain.
		// No debounce either — this comes from our own store, not from a
		// possibly-glitched ledger read.
		a.Status = domain.StatusEnded
		ev.ended = append(ev.ended, a.Type)

	case a.ZeroBids() && a.Expired(snap.HeadTime) && !(hasCfg && cfg.Replaces()):
		// A lane nobody bid on would need a wasted payout transaction just
		// to reset its timer — restart it synthetically instead. Lanes with
		// a pending type replacement skip this: they must end so the payout
		// can roll them into the next lane.
		r.syntheticRestart(&a, snap)
		if a.Iteration != cur.Iteration {
			changed = true
		}

	case a.RemainingBids == 0 || a.Expired(snap.HeadTime):
		if a.Status == domain.StatusActive {
			a.EndedPolls--
			if a.EndedPolls <= 0 {
				a.Status = domain.StatusEnded
				ev.ended = append(ev.ended, a.Type)
			}
		}

	default:
		// Healthy again: whatever looked ended was a stale read.
		a.EndedPolls = r.cfg.EndedDebounce
	}

	if a.Status == domain.StatusEnded && r.payouts.Paid(a.ID) {
		a.Status = domain.StatusPaid
	}

	if changed {
		ev.changed = append(ev.changed, laneChange{lane: a.Type, prevPrice: cur.BidPrice})
	}

	return &a
}

// pendingSteal reports whether the auction has a settled harpoon hit
// awaiting payout.
func (r *Reconciler) pendingSteal(ctx context.Context, auctionID uint64) bool {
	attempts, err := r.store.AttemptsForAuction(ctx, auctionID)
	if err != nil {
		slog.Warn("attempt lookup failed", "auction", auctionID, "err", err)
		return false
	}
	for _, att := range attempts {
		if att.Status == domain.AttemptPending {
			return true
		}
	}
	return false
}

// syntheticRestart resynthesizes the expiry and iteration of an un-bid
// lane as if the ledger had rolled it over: iteration counts the whole
// duration windows elapsed since expiry, and the new expiry lands at the
// end of the current window.
func (r *Reconciler) syntheticRestart(a *domain.Auction, snap domain.LedgerSnapshot) {
	secsSinceExpire := uint32(snap.HeadTime.Sub(a.ExpiresAt).Seconds())
	a.Iteration = secsSinceExpire/a.DurationSecs + 1
	remaining := a.DurationSecs - secsSinceExpire%a.DurationSecs
	a.ExpiresAt = snap.HeadTime.Add(time.Duration(remaining) * time.Second)
	a.Status = domain.StatusActive
	a.EndedPolls = r.cfg.EndedDebounce
}

// persistBid appends the newly observed bid, unless the "bidder" is the
// lane's own escrow account — that is a system action, not a user bid.
func (r *Reconciler) persistBid(ctx context.Context, a domain.Auction, snap domain.LedgerSnapshot) {
	if a.LastBidder == "" || a.LastBidder == r.cfg.EscrowAccount {
		return
	}
	bid := domain.Bid{
		AuctionID: a.ID,
		Bidder:    a.LastBidder,
		Price:     a.BidPrice,
		Sequence:  uint64(a.BidCount()),
		PlacedAt:  snap.HeadTime,
	}
	if err := r.store.InsertBid(ctx, bid); err != nil {
		slog.Warn("bid persistence failed", "auction", a.ID, "bidder", a.LastBidder, "err", err)
	}
}

// enrich recomputes steal odds and attaches fairness metadata for every
// lane. Per-lane computations are independent and fan out; the WaitGroup
// is the fan-in barrier before the snapshot swap.
func (r *Reconciler) enrich(ctx context.Context, lanes map[uint32]*domain.Auction, cfgs map[uint32]domain.AuctionTypeConfig) {
	var wg sync.WaitGroup
	for _, a := range lanes {
		if a.Status == domain.StatusPaid {
			continue
		}
		cfg, hasCfg := r.laneConfig(cfgs, a.Type)

		wg.Add(1)
		go func(a *domain.Auction, cfg domain.AuctionTypeConfig, hasCfg bool) {
			defer wg.Done()

			if hasCfg && cfg.HarpoonOddsBudget > 0 &&
				a.Status == domain.StatusActive && a.BidCount() >= cfg.MinBids && !a.ZeroBids() {
				r.computeOdds(ctx, a, cfg)
			}

			// Re-derive the commitment from the stored seed every cycle: a
			// miss rotates the seed and the published hash must follow it.
			if err := r.harpoon.EnsureFairness(ctx, a); err != nil {
				slog.Warn("fairness metadata attach failed", "auction", a.ID, "err", err)
			}
		}(a, cfg, hasCfg)
	}
	wg.Wait()
}

// computeOdds derives the lane's steal odds from its persisted bid
// history, excluding accounts that already spent their attempt.
func (r *Reconciler) computeOdds(ctx context.Context, a *domain.Auction, cfg domain.AuctionTypeConfig) {
	bids, err := r.store.BidsForAuction(ctx, a.ID)
	if err != nil {
		slog.Warn("bid history lookup failed", "auction", a.ID, "err", err)
		return
	}
	missedList, err := r.store.MissedAccounts(ctx, a.ID)
	if err != nil {
		slog.Warn("missed accounts lookup failed", "auction", a.ID, "err", err)
		return
	}
	missed := make(map[string]bool, len(missedList))
	for _, acc := range missedList {
		missed[acc] = true
	}
	a.Odds = domain.OddsFromBids(bids, a.LastBidder, missed, cfg.HarpoonOddsBudget)
}

// dispatchPayout selects at most one ended auction per cycle and hands it
// to the orchestrator. Single selection per cycle plus the spacing
// throttle keeps at most one deferred transaction competing for the
// escrow account's resources; zero-bid payouts are free to parallelize.
func (r *Reconciler) dispatchPayout(ctx context.Context, cfgs map[uint32]domain.AuctionTypeConfig) {
	order := make([]uint32, 0, len(r.lanes))
	for t := range r.lanes {
		order = append(order, t)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, t := range order {
		a := r.lanes[t]
		if a.Status != domain.StatusEnded {
			continue
		}
		if r.payouts.Outstanding(a.ID) || r.payouts.Paid(a.ID) {
			continue
		}
		if !r.payouts.CanSubmit(a.ZeroBids()) {
			continue
		}

		// Detached from the poll context: an in-flight submission must not
		// be aborted by loop shutdown (unknown-outcome transaction).
		payoutCtx := context.WithoutCancel(ctx)
		auction := *a
		go func() {
			if err := r.payouts.Payout(payoutCtx, auction, cfgs); err != nil {
				slog.Warn("payout failed", "auction", auction.ID, "err", err)
			}
		}()
		return
	}
}
