// Package bond holds the series/lane data model and the pure emission policy
// of the bond settlement engine. All amounts are fixed-point integers in the
// smallest unit of the funds currency; no floating point is used.
package bond

import (
	"github.com/PurgeGame/settlement_layer/internal/app/domain/sampling"
)

// PriceScale is the fixed-point scale of a series' claim price
// (value per unit burned, times 1e9).
const PriceScale = 1_000_000_000

// LaneCount is a design constant: every series carries exactly two
// independent burn pools.
const LaneCount = 2

// Lane is one burn pool of a series. Entries are append-only: the weighted
// index doubles as the (participant, amount) log and the cumulative column
// used for ticketed draws.
type Lane struct {
	Total  uint64            `json:"total"`
	Index  *sampling.Index   `json:"index"`
	Burned map[string]uint64 `json:"burned"`
}

// NewLane returns an empty lane.
func NewLane() *Lane {
	return &Lane{Index: sampling.New(), Burned: make(map[string]uint64)}
}

// Record appends a burn to the lane.
func (l *Lane) Record(participant string, amount uint64) {
	l.Total += amount
	l.Index.Append(participant, amount)
	l.Burned[participant] += amount
}

// Series is one bond cohort keyed by a future level of the external clock.
type Series struct {
	MaturityKey  uint64 `json:"maturity_key"`
	SaleStartKey uint64 `json:"sale_start_key"`

	Raised       uint64 `json:"raised"`        // monotonically non-decreasing
	PayoutBudget uint64 `json:"payout_budget"` // >= Raised always
	MintedBudget uint64 `json:"minted_budget"` // <= PayoutBudget always

	EmissionRuns int      `json:"emission_runs"` // scheduled runs completed
	ScheduleBps  []uint64 `json:"schedule_bps"`  // per-run mint fractions of Raised

	Score        *sampling.Index `json:"score"`         // deposit-score index
	ScoreBoosted map[string]bool `json:"score_boosted"` // one burn boost per participant

	Lanes [LaneCount]*Lane `json:"lanes"`

	Resolved    bool   `json:"resolved"` // one-way
	Archived    bool   `json:"archived"` // passed by the registry cursor
	WinningLane int    `json:"winning_lane"`
	ClaimPrice  uint64 `json:"claim_price"` // PriceScale-scaled, fixed at resolution
	Unclaimed   uint64 `json:"unclaimed"`   // remaining pull-claim reserve
}

// NewSeries creates an empty series for the given maturity. first selects the
// shorter front-loaded emission schedule used only by the very first series.
func NewSeries(maturityKey, saleOffset uint64, first bool) *Series {
	saleStart := uint64(0)
	if maturityKey > saleOffset {
		saleStart = maturityKey - saleOffset
	}
	s := &Series{
		MaturityKey:  maturityKey,
		SaleStartKey: saleStart,
		ScheduleBps:  RunSchedule(first),
		Score:        sampling.New(),
		ScoreBoosted: make(map[string]bool),
	}
	for i := range s.Lanes {
		s.Lanes[i] = NewLane()
	}
	return s
}

// Matured reports whether the series has reached its maturity level.
func (s *Series) Matured(level uint64) bool {
	return level >= s.MaturityKey
}

// SaleOpen reports whether deposits are currently accepted.
func (s *Series) SaleOpen(level uint64) bool {
	return !s.Resolved && level >= s.SaleStartKey && level < s.MaturityKey
}

// EmissionsRemaining reports whether scheduled mint runs are still pending.
func (s *Series) EmissionsRemaining() bool {
	return !s.Resolved && s.EmissionRuns < len(s.ScheduleBps)
}

// EmissionDue reports whether the next scheduled run has reached its due
// level. Runs are spaced evenly across the sale window and are strictly
// sequential.
func (s *Series) EmissionDue(level uint64) bool {
	if !s.EmissionsRemaining() {
		return false
	}
	window := s.MaturityKey - s.SaleStartKey
	due := s.SaleStartKey + uint64(s.EmissionRuns+1)*window/uint64(len(s.ScheduleBps))
	return level >= due
}

// FinalRunPending reports whether the next run is the last scheduled one.
func (s *Series) FinalRunPending() bool {
	return s.EmissionRuns == len(s.ScheduleBps)-1
}

// BurnTotal sums burns across both lanes.
func (s *Series) BurnTotal() uint64 {
	var total uint64
	for _, l := range s.Lanes {
		total += l.Total
	}
	return total
}

// RequiredCover is the amount of the shared funds pool this series reserves:
// the full payout budget before maturity, the burn total once matured, and
// the remaining unclaimed reserve once resolved. Archived series are covered
// by the registry's running total instead.
func (s *Series) RequiredCover(level uint64) uint64 {
	switch {
	case s.Archived:
		return 0
	case s.Resolved:
		return s.Unclaimed
	case s.Matured(level):
		return s.BurnTotal()
	default:
		return s.PayoutBudget
	}
}
