package storage

import (
	"context"
	"errors"
	"time"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/leaderboard"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// LedgerState is the persisted cursor state of the series registry. The
// engine stays authoritative in memory; the store carries durability and
// rebuilds the aggregate at startup.
type LedgerState struct {
	ActiveIndex       int       `json:"active_index"`
	PrevRaise         uint64    `json:"prev_raise"`
	ResolvedUnclaimed uint64    `json:"resolved_unclaimed"`
	FirstMaturityKey  uint64    `json:"first_maturity_key"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClaimRecord is the audit row written for every paid pull claim.
type ClaimRecord struct {
	ID          string    `json:"id"`
	MaturityKey uint64    `json:"maturity_key"`
	Participant string    `json:"participant"`
	Amount      uint64    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// DrawRecord is the audit row written for every paid ticketed draw at
// resolution, so payout attribution survives restarts.
type DrawRecord struct {
	ID          string    `json:"id"`
	MaturityKey uint64    `json:"maturity_key"`
	DrawIndex   int       `json:"draw_index"`
	Lane        int       `json:"lane"`
	Winner      string    `json:"winner"`
	Amount      uint64    `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// BondStore persists series snapshots, the registry cursor and the claim
// and draw audit rows.
type BondStore interface {
	UpsertSeries(ctx context.Context, s *bond.Series) error
	GetSeries(ctx context.Context, maturityKey uint64) (*bond.Series, error)
	ListSeries(ctx context.Context) ([]*bond.Series, error)

	SaveLedgerState(ctx context.Context, state LedgerState) error
	LoadLedgerState(ctx context.Context) (LedgerState, bool, error)

	SaveClaim(ctx context.Context, claim ClaimRecord) (ClaimRecord, error)
	ListClaims(ctx context.Context, maturityKey uint64) ([]ClaimRecord, error)

	SaveDraw(ctx context.Context, draw DrawRecord) (DrawRecord, error)
	ListDraws(ctx context.Context, maturityKey uint64) ([]DrawRecord, error)
}

// LeaderboardStore persists jackpot rounds.
type LeaderboardStore interface {
	UpsertRound(ctx context.Context, r *leaderboard.Round) error
	GetRound(ctx context.Context, level uint64) (*leaderboard.Round, error)
	ListRounds(ctx context.Context) ([]*leaderboard.Round, error)
}
