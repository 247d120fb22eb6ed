package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
)

func testAuction() domain.Auction {
	return domain.Auction{
		ID:            100,
		Type:          1,
		RemainingBids: 249,
		InitialBids:   250,
		LastBidder:    "alice",
		BidPrice:      domain.MustAsset("0.0500 EOS"),
		PrizePool:     domain.MustAsset("1.2500 EOS"),
		ExpiresAt:     time.Date(2026, 8, 29, 12, 30, 0, 0, time.UTC),
		Status:        domain.StatusActive,
		Iteration:     1,
	}
}

func TestConsole_TransitionLines(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	ctx := context.Background()
	a := testAuction()

	require.NoError(t, c.AuctionAdded(ctx, a))
	require.NoError(t, c.AuctionChanged(ctx, a, domain.MustAsset("0.0400 EOS")))
	require.NoError(t, c.AuctionEnded(ctx, a))
	require.NoError(t, c.AuctionRemoved(ctx, a))

	out := buf.String()
	assert.Contains(t, out, "added")
	assert.Contains(t, out, "changed")
	assert.Contains(t, out, "prev=0.0400 EOS")
	assert.Contains(t, out, "ended")
	assert.Contains(t, out, "removed")
	assert.Contains(t, out, "lane=1")
}

func TestConsole_WinnerLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	require.NoError(t, c.AuctionWinner(context.Background(), domain.AuctionRecord{
		AuctionID: 100, TypeID: 1, Winner: "alice",
		PrizePool: domain.MustAsset("1.2500 EOS"), TxID: "abc123",
	}))

	assert.Contains(t, buf.String(), "winner=alice")
	assert.Contains(t, buf.String(), "tx=abc123")
}

func TestConsole_HarpoonRotatedTable(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	attempts := []domain.HarpoonAttempt{
		{AuctionID: 100, Account: "bob", Odds: 0.0944, Draw: 3000000000, Status: domain.AttemptMiss, At: time.Now()},
	}
	require.NoError(t, c.HarpoonRotated(context.Background(), 100, "deadbeef", attempts))

	out := buf.String()
	assert.Contains(t, out, "hash=deadbeef")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "miss")
}

func TestConsole_PrintAuctions(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintAuctions(nil)
	assert.Contains(t, buf.String(), "no auctions")

	buf.Reset()
	c.PrintAuctions([]domain.Auction{testAuction()})
	out := buf.String()
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "1/250")
	assert.Contains(t, out, "active")
}
