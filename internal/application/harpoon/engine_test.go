package harpoon

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptosports721/eostime-sub000/internal/adapters/storage"
	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

// recordingNotifier captures every broadcast for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	rotated []string
	results []domain.HarpoonAttempt
	history [][]domain.HarpoonAttempt
}

func (n *recordingNotifier) AuctionAdded(context.Context, domain.Auction) error   { return nil }
func (n *recordingNotifier) AuctionChanged(context.Context, domain.Auction, domain.Asset) error {
	return nil
}
func (n *recordingNotifier) AuctionEnded(context.Context, domain.Auction) error   { return nil }
func (n *recordingNotifier) AuctionRemoved(context.Context, domain.Auction) error { return nil }
func (n *recordingNotifier) AuctionWinner(context.Context, domain.AuctionRecord) error {
	return nil
}

func (n *recordingNotifier) HarpoonRotated(_ context.Context, _ uint64, newHash string, attempts []domain.HarpoonAttempt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rotated = append(n.rotated, newHash)
	n.history = append(n.history, attempts)
	return nil
}

func (n *recordingNotifier) HarpoonResult(_ context.Context, att domain.HarpoonAttempt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, att)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *storage.SQLiteStore, *recordingNotifier) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	return NewEngine(store, notifier), store, notifier
}

func stealableAuction(id uint64, account string, odds float64) domain.Auction {
	return domain.Auction{
		ID:         id,
		Type:       1,
		LastBidder: "leader",
		Status:     domain.StatusActive,
		Odds: map[string]domain.StealOdds{
			account: {AheadOf: 1, Odds: odds},
		},
	}
}

func TestDraw_Deterministic(t *testing.T) {
	// first 4 bytes of sha512("42" || "s"), big-endian
	assert.Equal(t, uint32(49566363), Draw("42", "s"))
	assert.Equal(t, Draw("42", "s"), Draw("42", "s"))
	assert.NotEqual(t, Draw("42", "s"), Draw("42", "t"))
}

func TestCeiling(t *testing.T) {
	assert.Equal(t, uint32(2147483647), Ceiling(0.5))
	assert.Equal(t, uint32(0), Ceiling(0))
	// so small the raw value rounds below zero: clamps instead of wrapping
	assert.Equal(t, uint32(0), Ceiling(1e-12))
}

func TestCommitment_IsSHA256Hex(t *testing.T) {
	h := Commitment("secret")
	assert.Len(t, h, 64)
	assert.Equal(t, h, Commitment("secret"))
	assert.NotEqual(t, h, Commitment("other"))
}

func TestEnsureFairness_CommitsSeedAndClientSeed(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := domain.Auction{ID: 7, LastBidder: "alice", Status: domain.StatusActive}
	require.NoError(t, engine.EnsureFairness(ctx, &a))

	assert.Len(t, a.ServerSeedHash, 64)
	assert.Equal(t, "alice", a.ClientSeed)

	seed, err := store.ServerSeed(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.Equal(t, Commitment(seed.Seed), a.ServerSeedHash)
	assert.Equal(t, "alice", seed.ClientSeed)

	// the commitment survives re-observation unchanged
	b := domain.Auction{ID: 7, LastBidder: "bob", Status: domain.StatusActive}
	require.NoError(t, engine.EnsureFairness(ctx, &b))
	assert.Equal(t, a.ServerSeedHash, b.ServerSeedHash)
	assert.Equal(t, "alice", b.ClientSeed, "client seed locks to the first leader seen")
}

func TestAttempt_HitKeepsCommitment(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertServerSeed(ctx, domain.ServerSeed{
		AuctionID: 7, Seed: "s", ClientSeed: "42",
	}))

	// draw 49566363 is far below the 0.5 ceiling of 2147483647
	att, err := engine.Attempt(ctx, stealableAuction(7, "bob", 0.5), "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptPending, att.Status)
	assert.Equal(t, uint32(49566363), att.Draw)
	assert.Equal(t, "42", att.ClientSeed)
	assert.Equal(t, "s", att.ServerSeed)

	// a hit must not rotate: the pending attempt settles at payout time
	seed, err := store.ServerSeed(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "s", seed.Seed)
	assert.Empty(t, notifier.rotated)
	require.Len(t, notifier.results, 1)
	assert.Equal(t, domain.AttemptPending, notifier.results[0].Status)
}

func TestAttempt_MissRotatesSeed(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertServerSeed(ctx, domain.ServerSeed{
		AuctionID: 7, Seed: "s", ClientSeed: "42",
	}))

	// ceiling for 0.01 is 42949672, below the 49566363 draw
	att, err := engine.Attempt(ctx, stealableAuction(7, "bob", 0.01), "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptMiss, att.Status)

	seed, err := store.ServerSeed(ctx, 7)
	require.NoError(t, err)
	assert.NotEqual(t, "s", seed.Seed, "seed must rotate after a miss")
	assert.Equal(t, "42", seed.ClientSeed, "client seed survives rotation")

	require.Len(t, notifier.rotated, 1)
	assert.Equal(t, Commitment(seed.Seed), notifier.rotated[0])
	require.Len(t, notifier.history, 1)
	assert.Len(t, notifier.history[0], 1, "rotation carries the full attempt history")
}

func TestAttempt_Rejections(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertServerSeed(ctx, domain.ServerSeed{
		AuctionID: 7, Seed: "s", ClientSeed: "42",
	}))

	assertRejected := func(a domain.Auction, account, code string) {
		t.Helper()
		_, err := engine.Attempt(ctx, a, account)
		var elig *domain.EligibilityError
		require.ErrorAs(t, err, &elig)
		assert.Equal(t, code, elig.Code)
	}

	// el líder no puede robarse a sí mismo
	assertRejected(stealableAuction(7, "leader", 0.5), "leader", domain.RejectSelfSteal)

	ended := stealableAuction(7, "bob", 0.5)
	ended.Status = domain.StatusEnded
	assertRejected(ended, "bob", domain.RejectAuctionEnded)

	assertRejected(stealableAuction(7, "carol", 0.5), "dave", domain.RejectNoOdds)

	// quemar el intento de bob con un miss, luego reintentar
	_, err := engine.Attempt(ctx, stealableAuction(7, "bob", 0.01), "bob")
	require.NoError(t, err)
	assertRejected(stealableAuction(7, "bob", 0.5), "bob", domain.RejectAlreadyMissed)
}
