// Package postgres implements the storage interfaces backed by PostgreSQL.
// Series and round snapshots are stored as JSONB documents keyed by their
// registry key; claims get one audit row each.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/leaderboard"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.BondStore = (*Store)(nil)
var _ storage.LeaderboardStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- BondStore --------------------------------------------------------------

func (s *Store) UpsertSeries(ctx context.Context, series *bond.Series) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode series %d: %w", series.MaturityKey, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bond_series (maturity_key, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (maturity_key) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`, int64(series.MaturityKey), raw, time.Now().UTC())
	return err
}

func (s *Store) GetSeries(ctx context.Context, maturityKey uint64) (*bond.Series, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM bond_series WHERE maturity_key = $1
	`, int64(maturityKey))

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("series %d: %w", maturityKey, storage.ErrNotFound)
		}
		return nil, err
	}

	var series bond.Series
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode series %d: %w", maturityKey, err)
	}
	return &series, nil
}

func (s *Store) ListSeries(ctx context.Context) ([]*bond.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM bond_series ORDER BY maturity_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*bond.Series
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var series bond.Series
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil, fmt.Errorf("decode series: %w", err)
		}
		result = append(result, &series)
	}
	return result, rows.Err()
}

func (s *Store) SaveLedgerState(ctx context.Context, state storage.LedgerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bond_ledger_state (id, active_index, prev_raise, resolved_unclaimed, first_maturity_key, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET active_index = EXCLUDED.active_index,
		    prev_raise = EXCLUDED.prev_raise,
		    resolved_unclaimed = EXCLUDED.resolved_unclaimed,
		    first_maturity_key = EXCLUDED.first_maturity_key,
		    updated_at = EXCLUDED.updated_at
	`, int64(state.ActiveIndex), int64(state.PrevRaise), int64(state.ResolvedUnclaimed), int64(state.FirstMaturityKey), time.Now().UTC())
	return err
}

func (s *Store) LoadLedgerState(ctx context.Context) (storage.LedgerState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT active_index, prev_raise, resolved_unclaimed, first_maturity_key, updated_at
		FROM bond_ledger_state WHERE id = 1
	`)

	var (
		state                                       storage.LedgerState
		activeIndex, prevRaise, unclaimed, firstKey int64
	)
	if err := row.Scan(&activeIndex, &prevRaise, &unclaimed, &firstKey, &state.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LedgerState{}, false, nil
		}
		return storage.LedgerState{}, false, err
	}
	state.ActiveIndex = int(activeIndex)
	state.PrevRaise = uint64(prevRaise)
	state.ResolvedUnclaimed = uint64(unclaimed)
	state.FirstMaturityKey = uint64(firstKey)
	return state, true, nil
}

func (s *Store) SaveClaim(ctx context.Context, claim storage.ClaimRecord) (storage.ClaimRecord, error) {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	claim.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bond_claims (id, maturity_key, participant, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, claim.ID, int64(claim.MaturityKey), claim.Participant, int64(claim.Amount), claim.CreatedAt)
	if err != nil {
		return storage.ClaimRecord{}, err
	}
	return claim, nil
}

func (s *Store) ListClaims(ctx context.Context, maturityKey uint64) ([]storage.ClaimRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, maturity_key, participant, amount, created_at
		FROM bond_claims
		WHERE maturity_key = $1
		ORDER BY created_at
	`, int64(maturityKey))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.ClaimRecord
	for rows.Next() {
		var (
			claim       storage.ClaimRecord
			key, amount int64
		)
		if err := rows.Scan(&claim.ID, &key, &claim.Participant, &amount, &claim.CreatedAt); err != nil {
			return nil, err
		}
		claim.MaturityKey = uint64(key)
		claim.Amount = uint64(amount)
		result = append(result, claim)
	}
	return result, rows.Err()
}

func (s *Store) SaveDraw(ctx context.Context, draw storage.DrawRecord) (storage.DrawRecord, error) {
	if draw.ID == "" {
		draw.ID = uuid.NewString()
	}
	draw.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bond_draws (id, maturity_key, draw_index, lane, winner, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, draw.ID, int64(draw.MaturityKey), draw.DrawIndex, draw.Lane, draw.Winner, int64(draw.Amount), draw.CreatedAt)
	if err != nil {
		return storage.DrawRecord{}, err
	}
	return draw, nil
}

func (s *Store) ListDraws(ctx context.Context, maturityKey uint64) ([]storage.DrawRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, maturity_key, draw_index, lane, winner, amount, created_at
		FROM bond_draws
		WHERE maturity_key = $1
		ORDER BY draw_index
	`, int64(maturityKey))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.DrawRecord
	for rows.Next() {
		var (
			draw        storage.DrawRecord
			key, amount int64
		)
		if err := rows.Scan(&draw.ID, &key, &draw.DrawIndex, &draw.Lane, &draw.Winner, &amount, &draw.CreatedAt); err != nil {
			return nil, err
		}
		draw.MaturityKey = uint64(key)
		draw.Amount = uint64(amount)
		result = append(result, draw)
	}
	return result, rows.Err()
}

// --- LeaderboardStore -------------------------------------------------------

func (s *Store) UpsertRound(ctx context.Context, round *leaderboard.Round) error {
	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("encode round %d: %w", round.Level, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leaderboard_rounds (level, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (level) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
	`, int64(round.Level), raw, time.Now().UTC())
	return err
}

func (s *Store) GetRound(ctx context.Context, level uint64) (*leaderboard.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM leaderboard_rounds WHERE level = $1
	`, int64(level))

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("round %d: %w", level, storage.ErrNotFound)
		}
		return nil, err
	}

	var round leaderboard.Round
	if err := json.Unmarshal(raw, &round); err != nil {
		return nil, fmt.Errorf("decode round %d: %w", level, err)
	}
	return &round, nil
}

func (s *Store) ListRounds(ctx context.Context) ([]*leaderboard.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM leaderboard_rounds ORDER BY level
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*leaderboard.Round
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var round leaderboard.Round
		if err := json.Unmarshal(raw, &round); err != nil {
			return nil, fmt.Errorf("decode round: %w", err)
		}
		result = append(result, &round)
	}
	return result, rows.Err()
}
