// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/leaderboard"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
)

// Store keeps everything in maps. Snapshots are deep-copied through their
// JSON form so callers never alias stored state.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	series   map[uint64][]byte
	claims   map[uint64][]storage.ClaimRecord
	draws    map[uint64][]storage.DrawRecord
	rounds   map[uint64][]byte
	state    storage.LedgerState
	hasState bool
}

var _ storage.BondStore = (*Store)(nil)
var _ storage.LeaderboardStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID: 1,
		series: make(map[uint64][]byte),
		claims: make(map[uint64][]storage.ClaimRecord),
		draws:  make(map[uint64][]storage.DrawRecord),
		rounds: make(map[uint64][]byte),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// BondStore implementation ----------------------------------------------------

func (s *Store) UpsertSeries(_ context.Context, series *bond.Series) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode series %d: %w", series.MaturityKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series.MaturityKey] = raw
	return nil
}

func (s *Store) GetSeries(_ context.Context, maturityKey uint64) (*bond.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.series[maturityKey]
	if !ok {
		return nil, fmt.Errorf("series %d: %w", maturityKey, storage.ErrNotFound)
	}
	return decodeSeries(raw)
}

func (s *Store) ListSeries(_ context.Context) ([]*bond.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]uint64, 0, len(s.series))
	for key := range s.series {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := make([]*bond.Series, 0, len(keys))
	for _, key := range keys {
		series, err := decodeSeries(s.series[key])
		if err != nil {
			return nil, err
		}
		result = append(result, series)
	}
	return result, nil
}

func (s *Store) SaveLedgerState(_ context.Context, state storage.LedgerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	s.state = state
	s.hasState = true
	return nil
}

func (s *Store) LoadLedgerState(_ context.Context) (storage.LedgerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.hasState, nil
}

func (s *Store) SaveClaim(_ context.Context, claim storage.ClaimRecord) (storage.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim.ID == "" {
		claim.ID = s.nextIDLocked()
	}
	claim.CreatedAt = time.Now().UTC()
	s.claims[claim.MaturityKey] = append(s.claims[claim.MaturityKey], claim)
	return claim, nil
}

func (s *Store) ListClaims(_ context.Context, maturityKey uint64) ([]storage.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.ClaimRecord(nil), s.claims[maturityKey]...), nil
}

func (s *Store) SaveDraw(_ context.Context, draw storage.DrawRecord) (storage.DrawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draw.ID == "" {
		draw.ID = s.nextIDLocked()
	}
	draw.CreatedAt = time.Now().UTC()
	s.draws[draw.MaturityKey] = append(s.draws[draw.MaturityKey], draw)
	return draw, nil
}

func (s *Store) ListDraws(_ context.Context, maturityKey uint64) ([]storage.DrawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.DrawRecord(nil), s.draws[maturityKey]...), nil
}

// LeaderboardStore implementation ---------------------------------------------

func (s *Store) UpsertRound(_ context.Context, round *leaderboard.Round) error {
	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("encode round %d: %w", round.Level, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[round.Level] = raw
	return nil
}

func (s *Store) GetRound(_ context.Context, level uint64) (*leaderboard.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.rounds[level]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", level, storage.ErrNotFound)
	}
	return decodeRound(raw)
}

func (s *Store) ListRounds(_ context.Context) ([]*leaderboard.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]uint64, 0, len(s.rounds))
	for level := range s.rounds {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	result := make([]*leaderboard.Round, 0, len(levels))
	for _, level := range levels {
		round, err := decodeRound(s.rounds[level])
		if err != nil {
			return nil, err
		}
		result = append(result, round)
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func decodeSeries(raw []byte) (*bond.Series, error) {
	var series bond.Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return &series, nil
}

func decodeRound(raw []byte) (*leaderboard.Round, error) {
	var round leaderboard.Round
	if err := json.Unmarshal(raw, &round); err != nil {
		return nil, fmt.Errorf("decode round: %w", err)
	}
	return &round, nil
}
