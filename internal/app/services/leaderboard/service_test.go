package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/internal/app/services/treasury"
	"github.com/PurgeGame/settlement_layer/internal/app/storage/memory"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

type fixture struct {
	svc      *Service
	treasury *treasury.Service
	clock    *treasury.Clock
	store    *memory.Store
}

func newFixture(t *testing.T, level uint64) *fixture {
	t.Helper()
	tre := treasury.New(logger.NewNop())
	clock := treasury.NewClock(level)
	store := memory.New()

	svc, err := New(clock, tre, store, logger.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, treasury: tre, clock: clock, store: store}
}

func testSeed(t *testing.T) entropy.Seed {
	t.Helper()
	seed, err := entropy.SeedFromHex("0x2323232323232323232323232323232323232323232323232323232323232323")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return seed
}

// findEntrant searches for a participant name whose hashed sub-bucket does
// (or does not) match the bucket the seed will draw for the denominator.
func findEntrant(t *testing.T, prefix string, level, denominator uint64, seed entropy.Seed, winner bool) string {
	t.Helper()
	drawn := seed.Sub("bucket-draw", level, denominator).Mod(denominator)
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("%s-%d", prefix, i)
		if (entropy.AssignBucket("bucket", level, name, denominator) == drawn) == winner {
			return name
		}
	}
	t.Fatal("no suitable participant found")
	return ""
}

func TestEnterValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)

	if _, err := f.svc.Enter(ctx, "", 4, 100); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("empty participant: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "alice", 1, 100); !errors.Is(err, ErrInvalidDenominator) {
		t.Fatalf("denominator too small: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "alice", 11, 100); !errors.Is(err, ErrInvalidDenominator) {
		t.Fatalf("denominator too large: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "alice", 4, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
}

func TestEnterLocksDenominator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)

	entry, err := f.svc.Enter(ctx, "alice", 4, 100)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	want := entropy.AssignBucket("bucket", 7, "alice", 4)
	if entry.Bucket != want {
		t.Fatalf("bucket = %d, want %d", entry.Bucket, want)
	}

	if _, err := f.svc.Enter(ctx, "alice", 5, 50); !errors.Is(err, ErrDenominatorLocked) {
		t.Fatalf("denominator change: %v", err)
	}

	entry, err = f.svc.Enter(ctx, "alice", 4, 50)
	if err != nil {
		t.Fatalf("repeat enter: %v", err)
	}
	if entry.Burn != 150 {
		t.Fatalf("burn = %d, want 150", entry.Burn)
	}
	if entry.Bucket != want {
		t.Fatalf("bucket moved to %d", entry.Bucket)
	}
}

func TestResolveGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)
	seed := testSeed(t)

	var zero entropy.Seed
	if _, err := f.svc.Resolve(ctx, zero, 1000); !errors.Is(err, ErrEntropyNotReady) {
		t.Fatalf("zero seed: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, seed, 1000); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("no round: %v", err)
	}

	if _, err := f.svc.Enter(ctx, "alice", 4, 100); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, seed, 1000); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, seed, 1000); !errors.Is(err, ErrRoundResolved) {
		t.Fatalf("double resolve: %v", err)
	}
	if _, err := f.svc.Enter(ctx, "bob", 4, 100); !errors.Is(err, ErrRoundResolved) {
		t.Fatalf("enter after resolve: %v", err)
	}
}

func TestResolveAndClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)
	seed := testSeed(t)

	winnerA := findEntrant(t, "alpha", 7, 4, seed, true)
	winnerB := findEntrant(t, "beta", 7, 4, seed, true)
	loser := findEntrant(t, "gamma", 7, 4, seed, false)

	if _, err := f.svc.Enter(ctx, winnerA, 4, 300); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := f.svc.Enter(ctx, winnerB, 4, 100); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := f.svc.Enter(ctx, loser, 4, 500); err != nil {
		t.Fatalf("enter: %v", err)
	}

	if _, err := f.svc.Claim(ctx, 7, winnerA); !errors.Is(err, ErrRoundNotResolved) {
		t.Fatalf("claim before resolve: %v", err)
	}

	round, err := f.svc.Resolve(ctx, seed, 1000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if round.Pool != 1000 || round.TotalBurn != 400 {
		t.Fatalf("pool=%d totalBurn=%d", round.Pool, round.TotalBurn)
	}

	if err := f.treasury.Deposit(ctx, 1000); err != nil {
		t.Fatalf("fund pool: %v", err)
	}

	payout, err := f.svc.Claim(ctx, 7, winnerA)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 750 {
		t.Fatalf("payout = %d, want 750", payout)
	}
	payout, err = f.svc.Claim(ctx, 7, winnerB)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 250 {
		t.Fatalf("payout = %d, want 250", payout)
	}

	if _, err := f.svc.Claim(ctx, 7, winnerA); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("repeat claim: %v", err)
	}
	if _, err := f.svc.Claim(ctx, 7, loser); !errors.Is(err, ErrNotAWinner) {
		t.Fatalf("losing claim: %v", err)
	}
	if _, err := f.svc.Claim(ctx, 7, "stranger"); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("unknown participant: %v", err)
	}
}

func TestResolveWithoutWinnersKeepsPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)
	seed := testSeed(t)

	loser := findEntrant(t, "delta", 7, 4, seed, false)
	if _, err := f.svc.Enter(ctx, loser, 4, 500); err != nil {
		t.Fatalf("enter: %v", err)
	}

	round, err := f.svc.Resolve(ctx, seed, 1000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// No winning burn: the pool is not committed to this round.
	if round.Pool != 0 || round.TotalBurn != 0 {
		t.Fatalf("pool=%d totalBurn=%d, want 0/0", round.Pool, round.TotalBurn)
	}
}

func TestRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)
	seed := testSeed(t)

	if _, err := f.svc.Enter(ctx, "alice", 4, 100); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := f.svc.Resolve(ctx, seed, 1000); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	restored, err := New(f.clock, f.treasury, f.store, logger.NewNop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	round, err := restored.Round(ctx, 7)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	if !round.Resolved {
		t.Fatal("resolved flag lost")
	}
	entry, ok := round.Entries["alice"]
	if !ok || entry.Burn != 100 {
		t.Fatalf("entry lost: %+v", round.Entries)
	}
}
