package reconciler

// reconciler.go — the central polling loop. The chain cannot push events
// and cannot be locked, so the authoritative auction set lives here: each
// cycle reads one ledger snapshot, diffs it against the in-memory lanes,
// emits classified transitions and drives per-auction lifecycle. A cycle
// that fails mid-way mutates nothing and reschedules with a longer backoff.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryptosports721/eostime-sub000/internal/application/harpoon"
	"github.com/cryptosports721/eostime-sub000/internal/application/payout"
	"github.com/cryptosports721/eostime-sub000/internal/domain"
	"github.com/cryptosports721/eostime-sub000/internal/ports"
)

// Config controls the polling loop. Every constant the loop depends on is
// configurable; defaults match production behavior.
type Config struct {
	PollInterval  time.Duration // normal reschedule delay between cycles
	ErrorBackoff  time.Duration // reschedule delay after a failed cycle
	EndedDebounce int           // consecutive "ended" observations before finalizing
	RemovedSoak   int           // poll cycles a vanished lane is retained
	HouseCutRate  float64       // cut withheld from each bid's pool contribution
	TypeConfigTTL time.Duration // lane config cache lifetime
	EscrowAccount string        // contract escrow; its bids are system actions, not user bids
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  250 * time.Millisecond,
		ErrorBackoff:  5 * time.Second,
		EndedDebounce: 10,
		RemovedSoak:   10,
		HouseCutRate:  0.10,
		TypeConfigTTL: 30 * time.Second,
	}
}

// Reconciler owns the authoritative in-memory auction set, keyed by lane.
type Reconciler struct {
	cfg      Config
	ledger   ports.Ledger
	store    ports.Store
	notifier ports.Notifier
	harpoon  *harpoon.Engine
	payouts  *payout.Orchestrator

	// lanes is mutated exclusively by the reconciler's own cycle; mu guards
	// the snapshot swap against concurrent readers.
	mu    sync.RWMutex
	lanes map[uint32]*domain.Auction

	typeCfgs       map[uint32]domain.AuctionTypeConfig
	cfgFetchedAt   time.Time
	noConfigLogged map[uint32]bool

	stopped atomic.Bool
	running atomic.Bool
}

// New creates a Reconciler with all dependencies injected.
func New(
	cfg Config,
	ledger ports.Ledger,
	store ports.Store,
	notifier ports.Notifier,
	fairness *harpoon.Engine,
	payouts *payout.Orchestrator,
) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.EndedDebounce <= 0 {
		cfg.EndedDebounce = 10
	}
	if cfg.RemovedSoak <= 0 {
		cfg.RemovedSoak = 10
	}
	if cfg.TypeConfigTTL <= 0 {
		cfg.TypeConfigTTL = 30 * time.Second
	}

	return &Reconciler{
		cfg:            cfg,
		ledger:         ledger,
		store:          store,
		notifier:       notifier,
		harpoon:        fairness,
		payouts:        payouts,
		lanes:          make(map[uint32]*domain.Auction),
		typeCfgs:       make(map[uint32]domain.AuctionTypeConfig),
		noConfigLogged: make(map[uint32]bool),
	}
}

// Run polls forever until the context cancels or Stop is called. A cycle
// still in flight naturally suppresses the next tick: the timer only
// rearms after the cycle completes, so two polls can never overlap.
func (r *Reconciler) Run(ctx context.Context) error {
	slog.Info("reconciler starting",
		"interval", r.cfg.PollInterval,
		"debounce", r.cfg.EndedDebounce,
		"soak", r.cfg.RemovedSoak,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return nil
		case <-timer.C:
		}
		if r.stopped.Load() {
			slog.Info("reconciler stopped")
			return nil
		}

		r.running.Store(true)
		_, err := r.Poll(ctx)
		r.running.Store(false)

		if err != nil {
			// Every ledger failure is transient from the loop's point of
			// view: log, back off, try again. The loop never terminates
			// itself.
			slog.Warn("poll cycle failed", "err", err, "backoff", r.cfg.ErrorBackoff)
			timer.Reset(r.cfg.ErrorBackoff)
			continue
		}
		timer.Reset(r.cfg.PollInterval)
	}
}

// Stop requests the loop to halt and waits for any in-flight cycle to
// finish naturally, polling the running flag with bounded retries. An
// in-flight payout submission is never aborted: killing it mid-flight
// risks an unknown-outcome transaction.
func (r *Reconciler) Stop() error {
	r.stopped.Store(true)
	for i := 0; i < 100; i++ {
		if !r.running.Load() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("reconciler.Stop: cycle still running after 10s")
}

// Lanes returns a copy of the current authoritative auction set. Safe to
// call while the loop is running: lanes are immutable once published and
// only swapped wholesale.
func (r *Reconciler) Lanes() []domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Auction, 0, len(r.lanes))
	for _, a := range r.lanes {
		out = append(out, *a)
	}
	return out
}

// typeConfigs returns the per-lane configuration, refreshed from the
// store when the cache expires. A fetch failure keeps serving the stale
// cache: lane config is read-mostly and a poll cycle must not die on it.
func (r *Reconciler) typeConfigs(ctx context.Context) map[uint32]domain.AuctionTypeConfig {
	if time.Since(r.cfgFetchedAt) < r.cfg.TypeConfigTTL && len(r.typeCfgs) > 0 {
		return r.typeCfgs
	}

	cfgs, err := r.store.TypeConfigs(ctx)
	if err != nil {
		slog.Warn("type config refresh failed, keeping cached", "err", err)
		return r.typeCfgs
	}

	fresh := make(map[uint32]domain.AuctionTypeConfig, len(cfgs))
	for _, c := range cfgs {
		fresh[c.TypeID] = c
	}
	r.typeCfgs = fresh
	r.cfgFetchedAt = time.Now()
	return r.typeCfgs
}

// laneConfig looks up a lane's config, logging once per lane when absent.
// A lane without config runs as a plain timed auction with no steal
// mechanic.
func (r *Reconciler) laneConfig(cfgs map[uint32]domain.AuctionTypeConfig, typeID uint32) (domain.AuctionTypeConfig, bool) {
	cfg, ok := cfgs[typeID]
	if !ok && !r.noConfigLogged[typeID] {
		slog.Warn("no config for observed lane, treating as plain timed auction", "type", typeID)
		r.noConfigLogged[typeID] = true
	}
	return cfg, ok
}
