package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptosports721/eostime-sub000/internal/adapters/storage"
	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// fakeLedger counts submissions and can be scripted to fail or stall.
type fakeLedger struct {
	mu          sync.Mutex
	submits     int
	delay       time.Duration
	err         error
	lastReplace *domain.ReplacementParams
}

func (f *fakeLedger) Snapshot(context.Context) (domain.LedgerSnapshot, error) {
	return domain.LedgerSnapshot{}, nil
}

func (f *fakeLedger) SubmitPayout(_ context.Context, auctionID uint64, replace *domain.ReplacementParams) (domain.PayoutReceipt, error) {
	f.mu.Lock()
	f.submits++
	n := f.submits
	f.lastReplace = replace
	err := f.err
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.PayoutReceipt{}, err
	}
	return domain.PayoutReceipt{TxID: fmt.Sprintf("tx-%d-%d", auctionID, n), BlockNum: 1000 + uint32(n)}, nil
}

func (f *fakeLedger) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeLedger) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type winnerNotifier struct {
	mu      sync.Mutex
	winners []domain.AuctionRecord
}

func (n *winnerNotifier) AuctionAdded(context.Context, domain.Auction) error { return nil }
func (n *winnerNotifier) AuctionChanged(context.Context, domain.Auction, domain.Asset) error {
	return nil
}
func (n *winnerNotifier) AuctionEnded(context.Context, domain.Auction) error   { return nil }
func (n *winnerNotifier) AuctionRemoved(context.Context, domain.Auction) error { return nil }
func (n *winnerNotifier) HarpoonRotated(context.Context, uint64, string, []domain.HarpoonAttempt) error {
	return nil
}
func (n *winnerNotifier) HarpoonResult(context.Context, domain.HarpoonAttempt) error { return nil }

func (n *winnerNotifier) AuctionWinner(_ context.Context, rec domain.AuctionRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.winners = append(n.winners, rec)
	return nil
}

func newTestOrchestrator(t *testing.T, spacing time.Duration) (*Orchestrator, *fakeLedger, *storage.SQLiteStore, *winnerNotifier) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := &fakeLedger{}
	notifier := &winnerNotifier{}
	return New(ledger, store, notifier, spacing), ledger, store, notifier
}

func endedAuction(id uint64) domain.Auction {
	return domain.Auction{
		ID:            id,
		Type:          1,
		InitialBids:   100,
		RemainingBids: 0,
		LastBidder:    "alice",
		BidPrice:      domain.MustAsset("0.0500 EOS"),
		PrizePool:     domain.MustAsset("1.2500 EOS"),
		ExpiresAt:     time.Now().UTC().Add(-time.Minute),
		Status:        domain.StatusEnded,
		Iteration:     2,
	}
}

func TestPayout_ConcurrentCallsCollapse(t *testing.T) {
	orch, ledger, store, notifier := newTestOrchestrator(t, 0)
	ledger.delay = 50 * time.Millisecond
	ctx := context.Background()
	a := endedAuction(11)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = orch.Payout(ctx, a, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ledger.submitCount(), "exactly one submission per auction")
	assert.True(t, orch.Paid(11))
	assert.False(t, orch.Outstanding(11))

	rec, err := store.AuctionRecord(ctx, 11)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Paid())
	assert.Equal(t, "alice", rec.Winner)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Len(t, notifier.winners, 1)
}

func TestPayout_RepeatAfterPaidIsNoop(t *testing.T) {
	orch, ledger, _, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()
	a := endedAuction(12)

	require.NoError(t, orch.Payout(ctx, a, nil))
	require.NoError(t, orch.Payout(ctx, a, nil))
	assert.Equal(t, 1, ledger.submitCount())
}

func TestPayout_FailureClearsGuardAndRetries(t *testing.T) {
	orch, ledger, store, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()
	a := endedAuction(13)

	ledger.setErr(errors.New("ledger unreachable"))
	require.Error(t, orch.Payout(ctx, a, nil))
	assert.False(t, orch.Outstanding(13), "guard clears on failure")
	assert.False(t, orch.Paid(13))

	// the anchor survives the failure but is not finalized
	rec, err := store.AuctionRecord(ctx, 13)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Paid())

	ledger.setErr(nil)
	require.NoError(t, orch.Payout(ctx, a, nil))
	assert.Equal(t, 2, ledger.submitCount())
	assert.True(t, orch.Paid(13))

	rec, err = store.AuctionRecord(ctx, 13)
	require.NoError(t, err)
	assert.True(t, rec.Paid())
}

func TestPayout_SpacingThrottle(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, time.Hour)
	ctx := context.Background()

	assert.True(t, orch.CanSubmit(false), "cold start has no prior submission")
	require.NoError(t, orch.Payout(ctx, endedAuction(14), nil))
	assert.False(t, orch.CanSubmit(false), "real payout arms the throttle")
	assert.True(t, orch.CanSubmit(true), "zero-bid payouts bypass the throttle")
}

func TestPayout_ZeroBidSkipsWinnersAndThrottle(t *testing.T) {
	orch, ledger, _, notifier := newTestOrchestrator(t, time.Hour)
	ctx := context.Background()

	a := endedAuction(15)
	a.RemainingBids = a.InitialBids // nobody ever bid
	a.LastBidder = ""

	require.NoError(t, orch.Payout(ctx, a, nil))
	assert.Equal(t, 1, ledger.submitCount())
	assert.True(t, orch.Paid(15))
	assert.Empty(t, orch.RecentWinners(), "no value moved, no winner entry")
	assert.True(t, orch.CanSubmit(false), "zero-bid payout leaves the throttle untouched")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Len(t, notifier.winners, 1, "the event still broadcasts for lane bookkeeping")
}

func TestPayout_ReplacementParams(t *testing.T) {
	orch, ledger, _, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()

	params := &domain.ReplacementParams{
		TypeID:        2,
		InitBidCount:  500,
		BidPrice:      domain.MustAsset("0.1000 EOS"),
		InitPrizePool: domain.MustAsset("5.0000 EOS"),
		DurationSecs:  60,
	}
	cfgs := map[uint32]domain.AuctionTypeConfig{
		1: {TypeID: 1, NextTypeID: 2},
		2: {TypeID: 2, Params: params},
	}

	require.NoError(t, orch.Payout(ctx, endedAuction(16), cfgs))
	require.NotNil(t, ledger.lastReplace)
	assert.Equal(t, uint32(2), ledger.lastReplace.TypeID)
	assert.Equal(t, uint32(500), ledger.lastReplace.InitBidCount)
}

func TestPayout_ReplacementMissingNextParams(t *testing.T) {
	orch, ledger, _, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()

	// next lane named but never provisioned: restart the same lane instead
	cfgs := map[uint32]domain.AuctionTypeConfig{
		1: {TypeID: 1, NextTypeID: 2},
	}
	require.NoError(t, orch.Payout(ctx, endedAuction(17), cfgs))
	assert.Nil(t, ledger.lastReplace)
}

func TestPayout_PromotesPendingSteal(t *testing.T) {
	orch, _, store, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()

	require.NoError(t, store.InsertAttempt(ctx, domain.HarpoonAttempt{
		AuctionID: 18, Account: "bob", ClientSeed: "c", ServerSeed: "s",
		Odds: 0.1, Draw: 7, Status: domain.AttemptPending, At: time.Now().UTC(),
	}))

	require.NoError(t, orch.Payout(ctx, endedAuction(18), nil))

	atts, err := store.AttemptsForAuction(ctx, 18)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, domain.AttemptSuccess, atts[0].Status)

	winners := orch.RecentWinners()
	require.Len(t, winners, 1)
	assert.True(t, winners[0].HasSteal)
}

func TestRecentWinners_NewestFirstAndBounded(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, 0)
	ctx := context.Background()

	for i := uint64(1); i <= winnersCap+5; i++ {
		require.NoError(t, orch.Payout(ctx, endedAuction(i), nil))
	}

	winners := orch.RecentWinners()
	require.Len(t, winners, winnersCap)
	assert.Equal(t, uint64(winnersCap+5), winners[0].AuctionID, "newest first")
	assert.Equal(t, uint64(6), winners[winnersCap-1].AuctionID)
}
