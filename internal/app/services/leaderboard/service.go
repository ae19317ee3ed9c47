// Package leaderboard implements the bucket-denominator jackpot rounds that
// run alongside bond settlement. Participants pick their own odds: a burn
// locks into one of d sub-buckets, resolution draws one winning sub-bucket
// per denominator, and winners split the round pool pro rata by burn.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	domain "github.com/PurgeGame/settlement_layer/internal/app/domain/leaderboard"
	"github.com/PurgeGame/settlement_layer/internal/app/metrics"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

var (
	// ErrInvalidDenominator rejects denominators outside [2, 10].
	ErrInvalidDenominator = errors.New("denominator must be between 2 and 10")
	// ErrInvalidAmount rejects zero burns.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidParticipant rejects empty participant identifiers.
	ErrInvalidParticipant = errors.New("participant required")
	// ErrDenominatorLocked is returned when a later burn tries to change
	// the entry's locked denominator.
	ErrDenominatorLocked = errors.New("denominator locked by first entry")
	// ErrRoundResolved gates entries out of settled rounds.
	ErrRoundResolved = errors.New("round already resolved")
	// ErrRoundNotResolved gates claims until the round settles.
	ErrRoundNotResolved = errors.New("round not resolved")
	// ErrRoundNotFound is returned for unknown round levels.
	ErrRoundNotFound = errors.New("round not found")
	// ErrEntropyNotReady is returned when resolution is attempted with a
	// zero seed.
	ErrEntropyNotReady = errors.New("entropy not ready")
	// ErrAlreadyClaimed guards the one-shot pull claim.
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrNotAWinner is returned for claims from losing sub-buckets.
	ErrNotAWinner = errors.New("entry did not win")
)

// Service runs the jackpot rounds.
type Service struct {
	level bond.LevelSource
	funds bond.FundsPool
	store storage.LeaderboardStore
	log   *logger.Logger

	mu     sync.Mutex
	rounds map[uint64]*domain.Round
}

// New constructs the service and rebuilds rounds from the store.
func New(level bond.LevelSource, funds bond.FundsPool, store storage.LeaderboardStore, log *logger.Logger) (*Service, error) {
	if level == nil || funds == nil || store == nil {
		return nil, fmt.Errorf("level source, funds pool and store required")
	}
	if log == nil {
		log = logger.NewDefault("leaderboard")
	}

	s := &Service{
		level:  level,
		funds:  funds,
		store:  store,
		log:    log,
		rounds: make(map[uint64]*domain.Round),
	}
	all, err := store.ListRounds(context.Background())
	if err != nil {
		return nil, fmt.Errorf("restore rounds: %w", err)
	}
	for _, round := range all {
		s.rounds[round.Level] = round
	}
	if len(all) > 0 {
		s.log.Infof("restored %d leaderboard rounds", len(all))
	}
	return s, nil
}

// Enter records a burn into the current round. The first entry locks the
// participant's (denominator, sub-bucket) pair; later burns only grow it.
func (s *Service) Enter(ctx context.Context, participant string, denominator, amount uint64) (*domain.Entry, error) {
	if participant == "" {
		return nil, ErrInvalidParticipant
	}
	if denominator < domain.MinDenominator || denominator > domain.MaxDenominator {
		return nil, ErrInvalidDenominator
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	level, err := s.level.CurrentLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("current level: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[level]
	if !ok {
		round = domain.NewRound(level)
		s.rounds[level] = round
	}
	if round.Resolved {
		return nil, ErrRoundResolved
	}

	entry, ok := round.Entries[participant]
	if !ok {
		entry = &domain.Entry{
			Participant: participant,
			Denominator: denominator,
			Bucket:      entropy.AssignBucket("bucket", level, participant, denominator),
		}
		round.Entries[participant] = entry
	} else if entry.Denominator != denominator {
		return nil, ErrDenominatorLocked
	}
	round.Record(entry, amount)

	s.persistLocked(ctx, round)
	metrics.RecordLeaderboardEntry()
	out := *entry
	return &out, nil
}

// Resolve settles the round at the current level: one winning sub-bucket per
// denominator, drawn from per-denominator sub-seeds, and a pool snapshot the
// winners claim against.
func (s *Service) Resolve(ctx context.Context, seed entropy.Seed, pool uint64) (*domain.Round, error) {
	if seed.IsZero() {
		return nil, ErrEntropyNotReady
	}

	level, err := s.level.CurrentLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("current level: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[level]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if round.Resolved {
		return nil, ErrRoundResolved
	}

	round.Winning = make(map[uint64]uint64, len(round.Buckets))
	for denominator := range round.Buckets {
		round.Winning[denominator] = seed.Sub("bucket-draw", level, denominator).Mod(denominator)
	}
	round.Resolved = true

	var totalBurn uint64
	for _, entry := range round.Entries {
		if round.Won(entry) {
			totalBurn += entry.Burn
		}
	}
	round.TotalBurn = totalBurn
	if totalBurn > 0 {
		round.Pool = pool
	}

	s.persistLocked(ctx, round)
	metrics.RecordLeaderboardResolution()
	s.log.Infof("round %d resolved: pool %d over %d winning burn", level, round.Pool, totalBurn)
	return cloneRound(round), nil
}

// Claim pays a winning entry its pro-rata share of the round pool. One shot
// per entry.
func (s *Service) Claim(ctx context.Context, level uint64, participant string) (uint64, error) {
	if participant == "" {
		return 0, ErrInvalidParticipant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[level]
	if !ok {
		return 0, ErrRoundNotFound
	}
	if !round.Resolved {
		return 0, ErrRoundNotResolved
	}
	entry, ok := round.Entries[participant]
	if !ok {
		return 0, ErrRoundNotFound
	}
	if entry.Claimed {
		return 0, ErrAlreadyClaimed
	}
	if !round.Won(entry) {
		return 0, ErrNotAWinner
	}

	payout := domain.Payout(round.Pool, entry.Burn, round.TotalBurn)
	if payout > 0 {
		if err := s.funds.Withdraw(ctx, payout); err != nil {
			return 0, fmt.Errorf("withdraw jackpot payout: %w", err)
		}
	}
	entry.Claimed = true

	s.persistLocked(ctx, round)
	return payout, nil
}

// Round returns a detached copy of the round at level.
func (s *Service) Round(_ context.Context, level uint64) (*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[level]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return cloneRound(round), nil
}

// ListRounds returns detached copies of every round, unordered.
func (s *Service) ListRounds(_ context.Context) ([]*domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Round, 0, len(s.rounds))
	for _, round := range s.rounds {
		result = append(result, cloneRound(round))
	}
	return result, nil
}

func (s *Service) persistLocked(ctx context.Context, round *domain.Round) {
	if err := s.store.UpsertRound(ctx, round); err != nil {
		s.log.WithError(err).Warnf("persist round %d failed", round.Level)
	}
}

func cloneRound(round *domain.Round) *domain.Round {
	out := &domain.Round{
		Level:     round.Level,
		Pool:      round.Pool,
		TotalBurn: round.TotalBurn,
		Resolved:  round.Resolved,
		Winning:   make(map[uint64]uint64, len(round.Winning)),
		Entries:   make(map[string]*domain.Entry, len(round.Entries)),
		Buckets:   make(map[uint64]map[uint64]uint64, len(round.Buckets)),
	}
	for d, b := range round.Winning {
		out.Winning[d] = b
	}
	for p, e := range round.Entries {
		copied := *e
		out.Entries[p] = &copied
	}
	for d, buckets := range round.Buckets {
		inner := make(map[uint64]uint64, len(buckets))
		for b, burn := range buckets {
			inner[b] = burn
		}
		out.Buckets[d] = inner
	}
	return out
}
