package harpoon

// engine.go — provably-fair steal resolution (commit-reveal).
//
// The server commits to a secret seed before any client input exists, so
// neither side can bias the draw after seeing the other's value. The seed
// rotates on every miss, which bounds an attacker to a single draw per
// commitment. Draw, ceiling and commitment hash are all deterministic and
// client-verifiable once the seed is revealed.

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cryptosports721/eostime-sub000/internal/domain"
	"github.com/cryptosports721/eostime-sub000/internal/ports"
)

// Engine owns the ServerSeed rows and resolves steal attempts.
type Engine struct {
	store    ports.Store
	notifier ports.Notifier
}

// NewEngine creates the provably-fair engine.
func NewEngine(store ports.Store, notifier ports.Notifier) *Engine {
	return &Engine{store: store, notifier: notifier}
}

// EnsureFairness attaches commit-reveal metadata to the auction view:
// the published commitment hash, and the client seed once a leader is
// known. Creates and commits a fresh seed on first sight of an auction.
func (e *Engine) EnsureFairness(ctx context.Context, a *domain.Auction) error {
	seed, err := e.store.ServerSeed(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("harpoon.EnsureFairness: auction %d: %w", a.ID, err)
	}

	if seed == nil {
		seed = &domain.ServerSeed{AuctionID: a.ID, Seed: newSecret()}
		if err := e.store.UpsertServerSeed(ctx, *seed); err != nil {
			return fmt.Errorf("harpoon.EnsureFairness: commit seed for auction %d: %w", a.ID, err)
		}
	}

	// The leader's account name becomes the client seed: it is the one
	// input the server cannot choose.
	if seed.ClientSeed == "" && a.LastBidder != "" {
		seed.ClientSeed = a.LastBidder
		if err := e.store.UpsertServerSeed(ctx, *seed); err != nil {
			return fmt.Errorf("harpoon.EnsureFairness: set client seed for auction %d: %w", a.ID, err)
		}
	}

	a.ServerSeedHash = Commitment(seed.Seed)
	a.ClientSeed = seed.ClientSeed
	return nil
}

// Attempt resolves a steal attempt by account against the auction's
// current commitment. Eligibility failures are rejected with a reason
// before any randomness is consumed; they are the only error class that
// travels back to the requesting caller.
func (e *Engine) Attempt(ctx context.Context, a domain.Auction, account string) (domain.HarpoonAttempt, error) {
	if account == a.LastBidder {
		return domain.HarpoonAttempt{}, domain.Rejection(domain.RejectSelfSteal,
			"the current leader cannot steal from themselves")
	}
	if a.Status != domain.StatusActive {
		return domain.HarpoonAttempt{}, domain.Rejection(domain.RejectAuctionEnded,
			fmt.Sprintf("auction %d is %s", a.ID, a.Status))
	}
	odds, ok := a.Odds[account]
	if !ok || odds.Odds <= 0 {
		return domain.HarpoonAttempt{}, domain.Rejection(domain.RejectNoOdds,
			fmt.Sprintf("account %s has no steal odds on auction %d", account, a.ID))
	}

	missed, err := e.store.HasHarpooned(ctx, a.ID, account)
	if err != nil {
		return domain.HarpoonAttempt{}, fmt.Errorf("harpoon.Attempt: miss lookup: %w", err)
	}
	if missed {
		return domain.HarpoonAttempt{}, domain.Rejection(domain.RejectAlreadyMissed,
			fmt.Sprintf("account %s already used its attempt on auction %d", account, a.ID))
	}

	seed, err := e.store.ServerSeed(ctx, a.ID)
	if err != nil {
		return domain.HarpoonAttempt{}, fmt.Errorf("harpoon.Attempt: seed lookup: %w", err)
	}
	if seed == nil {
		return domain.HarpoonAttempt{}, fmt.Errorf("harpoon.Attempt: auction %d has no committed seed", a.ID)
	}

	draw := Draw(seed.ClientSeed, seed.Seed)
	att := domain.HarpoonAttempt{
		AuctionID:  a.ID,
		Account:    account,
		ClientSeed: seed.ClientSeed,
		ServerSeed: seed.Seed,
		Odds:       odds.Odds,
		Draw:       draw,
		At:         time.Now().UTC(),
	}

	if draw <= Ceiling(odds.Odds) {
		// Pending until the resulting payout is observed finalized on chain.
		att.Status = domain.AttemptPending
		if err := e.store.InsertAttempt(ctx, att); err != nil {
			return domain.HarpoonAttempt{}, fmt.Errorf("harpoon.Attempt: insert pending: %w", err)
		}
		slog.Info("harpoon hit", "auction", a.ID, "account", account,
			"odds", odds.Odds, "draw", draw)
	} else {
		att.Status = domain.AttemptMiss
		if err := e.store.InsertAttempt(ctx, att); err != nil {
			return domain.HarpoonAttempt{}, fmt.Errorf("harpoon.Attempt: insert miss: %w", err)
		}
		if err := e.rotate(ctx, a.ID, seed.ClientSeed); err != nil {
			return domain.HarpoonAttempt{}, err
		}
		slog.Info("harpoon miss", "auction", a.ID, "account", account,
			"odds", odds.Odds, "draw", draw)
	}

	if err := e.notifier.HarpoonResult(ctx, att); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	return att, nil
}

// rotate replaces the server seed after a miss so nobody can replay the
// same draw against the spent commitment, and broadcasts the new hash
// plus the full attempt history for transparency.
func (e *Engine) rotate(ctx context.Context, auctionID uint64, clientSeed string) error {
	fresh := domain.ServerSeed{
		AuctionID:  auctionID,
		Seed:       newSecret(),
		ClientSeed: clientSeed,
	}
	if err := e.store.UpsertServerSeed(ctx, fresh); err != nil {
		return fmt.Errorf("harpoon.rotate: auction %d: %w", auctionID, err)
	}

	attempts, err := e.store.AttemptsForAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("harpoon.rotate: attempt history: %w", err)
	}
	if err := e.notifier.HarpoonRotated(ctx, auctionID, Commitment(fresh.Seed), attempts); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	return nil
}

// Draw derives the attempt's random value: the first 4 bytes of
// sha512(clientSeed || serverSeed) as a big-endian unsigned 32-bit integer.
func Draw(clientSeed, serverSeed string) uint32 {
	sum := sha512.Sum512([]byte(clientSeed + serverSeed))
	return binary.BigEndian.Uint32(sum[:4])
}

// Ceiling converts a probability in [0,1) into the highest draw value
// that still counts as a hit.
func Ceiling(p float64) uint32 {
	v := math.Round(p*math.Pow(2, 32) - 1)
	if v < 0 {
		return 0
	}
	return uint32(v)
}

// Commitment is the published hash of a server seed.
func Commitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// newSecret generates a fresh server seed secret.
func newSecret() string {
	return uuid.NewString()
}
