// Package bond implements the settlement engine: the series registry, the
// deposit/burn/claim operations and the bounded maintenance driver. The
// engine owns its aggregate in memory; the store persists snapshots after
// every mutation and rebuilds the aggregate at startup.
package bond

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/internal/app/metrics"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

var (
	// ErrInvalidAmount rejects zero-amount deposits, burns and claims.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidParticipant rejects empty participant identifiers.
	ErrInvalidParticipant = errors.New("participant required")
	// ErrInvalidMaturity rejects maturity hints off the maturity grid.
	ErrInvalidMaturity = errors.New("maturity key must be a positive multiple of the maturity step")
	// ErrNoEligibleSeries is returned when burn redirection exhausts its
	// retry bound without finding an open series.
	ErrNoEligibleSeries = errors.New("no eligible series for burn")
	// ErrSeriesNotFound is returned for unknown maturity keys.
	ErrSeriesNotFound = errors.New("series not found")
	// ErrSeriesNotResolved is returned for claims against an unresolved
	// series.
	ErrSeriesNotResolved = errors.New("series not resolved")
)

// Config carries the engine's tunable policy knobs.
type Config struct {
	// MaturityStep is the level grid of series maturities; every maturity
	// key is a multiple of it.
	MaturityStep uint64
	// SaleOffset is how many levels before maturity a series' sale opens.
	SaleOffset uint64
	// RedirectMaturities is how many maturity steps a burn skips forward
	// when its target series is closed.
	RedirectMaturities uint64
	// RedirectMax bounds the redirect retries before a burn is rejected.
	RedirectMax int
	// BoostBps is the score boost credited for a participant's first burn
	// into a series that is still emitting.
	BoostBps uint64
}

// DefaultConfig returns the production policy values.
func DefaultConfig() Config {
	return Config{
		MaturityStep:       5,
		SaleOffset:         10,
		RedirectMaturities: 10,
		RedirectMax:        32,
		BoostBps:           15_000,
	}
}

func (c *Config) normalize() {
	if c.MaturityStep == 0 {
		c.MaturityStep = 5
	}
	if c.SaleOffset == 0 {
		c.SaleOffset = 2 * c.MaturityStep
	}
	if c.RedirectMaturities == 0 {
		c.RedirectMaturities = 10
	}
	if c.RedirectMax <= 0 {
		c.RedirectMax = 32
	}
	if c.BoostBps == 0 {
		c.BoostBps = 15_000
	}
}

// Deps bundles the external capabilities the engine works against.
type Deps struct {
	Level  bond.LevelSource
	Funds  bond.FundsPool
	Tokens [bond.LaneCount]bond.ClaimToken
	Score  bond.ScoreSource // nil means flat 1.0x
}

// Service is the settlement engine.
type Service struct {
	cfg   Config
	deps  Deps
	store storage.BondStore
	log   *logger.Logger

	mu                sync.Mutex
	series            map[uint64]*bond.Series
	order             []uint64 // maturity keys, ascending
	activeIndex       int      // first non-archived position in order
	prevRaise         uint64   // final raise of the last resolved series
	resolvedUnclaimed uint64   // unclaimed reserve of archived series
	firstKey          uint64   // maturity key of the very first series, 0 until created
}

// New constructs the engine and rebuilds its aggregate from the store.
func New(cfg Config, deps Deps, store storage.BondStore, log *logger.Logger) (*Service, error) {
	cfg.normalize()
	if deps.Level == nil || deps.Funds == nil {
		return nil, fmt.Errorf("level source and funds pool required")
	}
	for i := range deps.Tokens {
		if deps.Tokens[i] == nil {
			return nil, fmt.Errorf("claim token variant %d required", i)
		}
	}
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if log == nil {
		log = logger.NewDefault("bond")
	}

	s := &Service{
		cfg:    cfg,
		deps:   deps,
		store:  store,
		log:    log,
		series: make(map[uint64]*bond.Series),
	}
	if err := s.restore(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) restore(ctx context.Context) error {
	all, err := s.store.ListSeries(ctx)
	if err != nil {
		return fmt.Errorf("restore series: %w", err)
	}
	for _, series := range all {
		s.series[series.MaturityKey] = series
		s.order = append(s.order, series.MaturityKey)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })

	state, ok, err := s.store.LoadLedgerState(ctx)
	if err != nil {
		return fmt.Errorf("restore ledger state: %w", err)
	}
	if ok {
		if state.ActiveIndex < 0 || state.ActiveIndex > len(s.order) {
			return fmt.Errorf("restore ledger state: cursor %d out of range", state.ActiveIndex)
		}
		s.activeIndex = state.ActiveIndex
		s.prevRaise = state.PrevRaise
		s.resolvedUnclaimed = state.ResolvedUnclaimed
		s.firstKey = state.FirstMaturityKey
	}
	if len(s.order) > 0 {
		s.log.Infof("restored %d series, cursor at %d", len(s.order), s.activeIndex)
	}
	return nil
}

// DepositReceipt reports the outcome of an accepted deposit.
type DepositReceipt struct {
	MaturityKey uint64 `json:"maturity_key"`
	Score       uint64 `json:"score"`
}

// Deposit accepts funds into the series currently on sale, crediting the
// beneficiary with multiplier-scaled score in that series' emission index.
func (s *Service) Deposit(ctx context.Context, beneficiary string, amount uint64) (DepositReceipt, error) {
	if beneficiary == "" {
		return DepositReceipt{}, ErrInvalidParticipant
	}
	if amount == 0 {
		return DepositReceipt{}, ErrInvalidAmount
	}

	level, err := s.deps.Level.CurrentLevel(ctx)
	if err != nil {
		return DepositReceipt{}, fmt.Errorf("current level: %w", err)
	}
	multiplier, err := s.multiplier(ctx, beneficiary)
	if err != nil {
		return DepositReceipt{}, fmt.Errorf("score multiplier: %w", err)
	}
	score := bond.ApplyBps(amount, multiplier)

	if err := s.deps.Funds.Deposit(ctx, amount); err != nil {
		return DepositReceipt{}, fmt.Errorf("deposit funds: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.ensureSeriesLocked(s.saleKeyLocked(level))
	series.Raised += amount
	if series.PayoutBudget < series.Raised {
		series.PayoutBudget = series.Raised
	}
	series.Score.Append(beneficiary, score)

	s.persistLocked(ctx, series)
	metrics.RecordDeposit(amount)
	s.log.Debugf("deposit %d by %s into series %d (score %d)", amount, beneficiary, series.MaturityKey, score)
	return DepositReceipt{MaturityKey: series.MaturityKey, Score: score}, nil
}

// BurnReceipt reports where a burn landed.
type BurnReceipt struct {
	MaturityKey uint64 `json:"maturity_key"`
	Lane        int    `json:"lane"`
	ScoreBoost  uint64 `json:"score_boost"`
}

// Burn destroys claim tokens against a target series, entering the burn into
// the participant's hashed lane. A closed target redirects forward by a
// fixed number of maturities, a bounded number of times.
func (s *Service) Burn(ctx context.Context, participant string, maturityHint, amount uint64) (BurnReceipt, error) {
	if participant == "" {
		return BurnReceipt{}, ErrInvalidParticipant
	}
	if amount == 0 {
		return BurnReceipt{}, ErrInvalidAmount
	}

	level, err := s.deps.Level.CurrentLevel(ctx)
	if err != nil {
		return BurnReceipt{}, fmt.Errorf("current level: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := maturityHint
	if target == 0 {
		target = s.saleKeyLocked(level)
	} else if target%s.cfg.MaturityStep != 0 {
		return BurnReceipt{}, ErrInvalidMaturity
	}

	redirected := false
	for attempt := 0; ; attempt++ {
		if attempt >= s.cfg.RedirectMax {
			return BurnReceipt{}, ErrNoEligibleSeries
		}
		if s.openForBurnLocked(target, level) {
			break
		}
		target += s.cfg.RedirectMaturities * s.cfg.MaturityStep
		redirected = true
	}

	token := s.deps.Tokens[s.variantFor(target)]
	if err := token.Burn(ctx, participant, amount); err != nil {
		return BurnReceipt{}, fmt.Errorf("burn claim tokens: %w", err)
	}

	series := s.ensureSeriesLocked(target)
	lane := int(entropy.AssignBucket("lane", target, participant, bond.LaneCount))
	series.Lanes[lane].Record(participant, amount)

	var boost uint64
	if series.EmissionsRemaining() && series.MintedBudget < series.PayoutBudget && !series.ScoreBoosted[participant] {
		boost = bond.ApplyBps(amount, s.cfg.BoostBps)
		if boost > 0 {
			series.Score.Append(participant, boost)
			series.ScoreBoosted[participant] = true
		}
	}

	s.persistLocked(ctx, series)
	metrics.RecordBurn(lane)
	if redirected {
		s.log.Debugf("burn by %s redirected to series %d", participant, target)
	}
	return BurnReceipt{MaturityKey: target, Lane: lane, ScoreBoost: boost}, nil
}

// openForBurnLocked reports whether a burn may enter the series at target.
// A series that does not exist yet is open as long as it is in the future.
func (s *Service) openForBurnLocked(target, level uint64) bool {
	if target == 0 || target <= level {
		return false
	}
	if series, ok := s.series[target]; ok && series.Resolved {
		return false
	}
	return true
}

// Claim pays out the participant's burned position in a resolved series at
// the fixed claim price. Claiming is idempotent: the position is zeroed on
// payment and later claims return zero.
func (s *Service) Claim(ctx context.Context, maturityKey uint64, participant string) (uint64, error) {
	if participant == "" {
		return 0, ErrInvalidParticipant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[maturityKey]
	if !ok {
		return 0, ErrSeriesNotFound
	}
	if !series.Resolved {
		return 0, ErrSeriesNotResolved
	}

	lane := series.Lanes[series.WinningLane]
	burned := lane.Burned[participant]
	if burned == 0 {
		return 0, nil
	}

	payout := bond.ClaimPayout(burned, series.ClaimPrice)
	reserve := series.Unclaimed
	if series.Archived {
		reserve = s.resolvedUnclaimed
	}
	// Rounding dust floors at the remaining reserve.
	if payout > reserve {
		payout = reserve
	}

	if payout > 0 {
		if err := s.deps.Funds.Withdraw(ctx, payout); err != nil {
			return 0, fmt.Errorf("withdraw claim payout: %w", err)
		}
	}

	lane.Burned[participant] = 0
	if series.Archived {
		s.resolvedUnclaimed -= payout
	} else {
		series.Unclaimed -= payout
	}

	if payout > 0 {
		if _, err := s.store.SaveClaim(ctx, storage.ClaimRecord{
			MaturityKey: maturityKey,
			Participant: participant,
			Amount:      payout,
		}); err != nil {
			s.log.WithError(err).Warn("persist claim record failed")
		}
	}
	s.persistLocked(ctx, series)
	metrics.RecordClaim(payout)
	return payout, nil
}

// CoverInfo describes the funding requirement of the next series to settle.
type CoverInfo struct {
	MaturityKey   uint64 `json:"maturity_key"`
	Level         uint64 `json:"level"`
	RequiredCover uint64 `json:"required_cover"`
	Matured       bool   `json:"matured"`
}

// RequiredCoverNext returns the cover requirement of the oldest unresolved
// series, or a zero CoverInfo when everything is settled.
func (s *Service) RequiredCoverNext(ctx context.Context) (CoverInfo, error) {
	level, err := s.deps.Level.CurrentLevel(ctx)
	if err != nil {
		return CoverInfo{}, fmt.Errorf("current level: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.order[s.activeIndex:] {
		series := s.series[key]
		if series.Resolved {
			continue
		}
		return CoverInfo{
			MaturityKey:   key,
			Level:         level,
			RequiredCover: series.RequiredCover(level),
			Matured:       series.Matured(level),
		}, nil
	}
	return CoverInfo{Level: level}, nil
}

// Summary is the query projection of one series.
type Summary struct {
	MaturityKey  uint64                `json:"maturity_key"`
	SaleStartKey uint64                `json:"sale_start_key"`
	Raised       uint64                `json:"raised"`
	PayoutBudget uint64                `json:"payout_budget"`
	MintedBudget uint64                `json:"minted_budget"`
	EmissionRuns int                   `json:"emission_runs"`
	TotalRuns    int                   `json:"total_runs"`
	LaneTotals   [bond.LaneCount]uint64 `json:"lane_totals"`
	Resolved     bool                  `json:"resolved"`
	Archived     bool                  `json:"archived"`
	WinningLane  int                   `json:"winning_lane"`
	ClaimPrice   uint64                `json:"claim_price"`
	Unclaimed    uint64                `json:"unclaimed"`
}

func summarize(series *bond.Series) Summary {
	sum := Summary{
		MaturityKey:  series.MaturityKey,
		SaleStartKey: series.SaleStartKey,
		Raised:       series.Raised,
		PayoutBudget: series.PayoutBudget,
		MintedBudget: series.MintedBudget,
		EmissionRuns: series.EmissionRuns,
		TotalRuns:    len(series.ScheduleBps),
		Resolved:     series.Resolved,
		Archived:     series.Archived,
		WinningLane:  series.WinningLane,
		ClaimPrice:   series.ClaimPrice,
		Unclaimed:    series.Unclaimed,
	}
	for i, lane := range series.Lanes {
		sum.LaneTotals[i] = lane.Total
	}
	return sum
}

// Series returns a detached copy of one series.
func (s *Service) Series(_ context.Context, maturityKey uint64) (*bond.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.series[maturityKey]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return cloneSeries(series)
}

// ListSeries returns summaries of every series in maturity order.
func (s *Service) ListSeries(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Summary, 0, len(s.order))
	for _, key := range s.order {
		result = append(result, summarize(s.series[key]))
	}
	return result, nil
}

// ResolvedUnclaimed returns the pooled unclaimed reserve of archived series.
func (s *Service) ResolvedUnclaimed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolvedUnclaimed
}

// saleKeyLocked is the maturity key currently on sale: the next multiple of
// the maturity step strictly after level.
func (s *Service) saleKeyLocked(level uint64) uint64 {
	return (level/s.cfg.MaturityStep + 1) * s.cfg.MaturityStep
}

func (s *Service) variantFor(maturityKey uint64) int {
	return int(maturityKey / s.cfg.MaturityStep % bond.LaneCount)
}

// ensureSeriesLocked returns the series at key, creating it if needed. The
// order slice stays sorted; new keys always land after the archive cursor
// because archived series are in the past and new keys are in the future.
func (s *Service) ensureSeriesLocked(key uint64) *bond.Series {
	if series, ok := s.series[key]; ok {
		return series
	}

	first := s.firstKey == 0
	if first {
		s.firstKey = key
	}
	series := bond.NewSeries(key, s.cfg.SaleOffset, first)
	s.series[key] = series

	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] > key })
	s.order = append(s.order, 0)
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = key

	s.log.Infof("opened series %d (sale from level %d)", key, series.SaleStartKey)
	return series
}

func (s *Service) multiplier(ctx context.Context, participant string) (uint64, error) {
	if s.deps.Score == nil {
		return 10_000, nil
	}
	m, err := s.deps.Score.Multiplier(ctx, participant)
	if err != nil {
		return 0, err
	}
	if m == 0 {
		m = 10_000
	}
	return m, nil
}

// persistLocked snapshots the touched series and the cursor state. The
// in-memory aggregate stays authoritative; persistence failures are logged
// and retried implicitly by the next mutation.
func (s *Service) persistLocked(ctx context.Context, touched ...*bond.Series) {
	for _, series := range touched {
		if err := s.store.UpsertSeries(ctx, series); err != nil {
			s.log.WithError(err).Warnf("persist series %d failed", series.MaturityKey)
		}
	}
	if err := s.store.SaveLedgerState(ctx, storage.LedgerState{
		ActiveIndex:       s.activeIndex,
		PrevRaise:         s.prevRaise,
		ResolvedUnclaimed: s.resolvedUnclaimed,
		FirstMaturityKey:  s.firstKey,
	}); err != nil {
		s.log.WithError(err).Warn("persist ledger state failed")
	}
}

func cloneSeries(series *bond.Series) (*bond.Series, error) {
	raw, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("encode series: %w", err)
	}
	var out bond.Series
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return &out, nil
}
