package bond

import (
	"context"
	"fmt"
	"time"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/internal/app/metrics"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
)

// RunMaintenance advances overdue settlement work under a work-unit budget:
// one emission run or one series resolution costs one unit. Work is strictly
// ordered (emissions by maturity then run index, resolutions oldest first),
// so a pass cut off by the budget resumes exactly where it stopped. A zero
// seed means entropy is not ready; state is left untouched.
func (s *Service) RunMaintenance(ctx context.Context, seed entropy.Seed, budget int) (bool, error) {
	start := time.Now()
	advanced, err := s.runMaintenance(ctx, seed, budget)
	metrics.RecordMaintenance(time.Since(start), advanced)
	return advanced, err
}

func (s *Service) runMaintenance(ctx context.Context, seed entropy.Seed, budget int) (bool, error) {
	if budget <= 0 || seed.IsZero() {
		return false, nil
	}

	level, err := s.deps.Level.CurrentLevel(ctx)
	if err != nil {
		return false, fmt.Errorf("current level: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Bookkeeping outside the budget: the upcoming series always exists so
	// deposits have a target, and the cursor skips anything already settled.
	touched := map[uint64]*bond.Series{}
	upcoming := s.ensureSeriesLocked(s.saleKeyLocked(level))
	touched[upcoming.MaturityKey] = upcoming
	s.archiveLocked(touched)

	work := budget
	advanced := false

	// Emission runs, by maturity then run index.
	for _, key := range s.order[s.activeIndex:] {
		if work == 0 {
			break
		}
		series := s.series[key]
		for work > 0 && series.EmissionDue(level) {
			if err := s.runEmissionLocked(ctx, series, seed); err != nil {
				s.persistLocked(ctx, collect(touched)...)
				return advanced, err
			}
			touched[key] = series
			work--
			advanced = true
		}
	}

	// Resolutions, oldest first. Each resolution runs to completion within
	// a single unit of work; a failed conservation check stops settlement
	// entirely until funding recovers.
	for _, key := range s.order[s.activeIndex:] {
		if work == 0 {
			break
		}
		series := s.series[key]
		if series.Resolved || !series.Matured(level) {
			continue
		}
		ok, err := s.conservationHoldsLocked(ctx, level)
		if err != nil {
			s.persistLocked(ctx, collect(touched)...)
			return advanced, err
		}
		if !ok {
			s.log.Warnf("series %d resolution deferred: funds pool under required cover", key)
			break
		}
		if err := s.resolveLocked(ctx, series, seed); err != nil {
			s.persistLocked(ctx, collect(touched)...)
			return advanced, err
		}
		touched[key] = series
		work--
		advanced = true
	}

	s.archiveLocked(touched)
	s.persistLocked(ctx, collect(touched)...)
	return advanced, nil
}

// runEmissionLocked executes the series' next scheduled emission run. The
// final run tops the payout budget up to the growth target and mints the
// whole remainder; earlier runs mint their scheduled fraction of the raise.
func (s *Service) runEmissionLocked(ctx context.Context, series *bond.Series, seed entropy.Seed) error {
	runIdx := series.EmissionRuns

	var mint uint64
	if series.FinalRunPending() {
		target := bond.TargetBudget(series.Raised, s.prevRaise)
		if target > series.PayoutBudget {
			series.PayoutBudget = target
		}
		mint = series.PayoutBudget - series.MintedBudget
	} else {
		mint = bond.RunAmount(series.Raised, series.ScheduleBps[runIdx])
		if series.MintedBudget+mint > series.PayoutBudget {
			mint = series.PayoutBudget - series.MintedBudget
		}
	}

	if mint > 0 && series.Score.Total() > 0 {
		amounts := bond.SplitPrizeCurve(mint, bond.EmissionWinners)
		token := s.deps.Tokens[s.variantFor(series.MaturityKey)]
		for rank, amount := range amounts {
			if amount == 0 {
				continue
			}
			sub := seed.Sub("emission", series.MaturityKey, uint64(runIdx), uint64(rank))
			winner, ok := series.Score.Pick(sub)
			if !ok {
				continue
			}
			if err := token.Mint(ctx, winner, amount); err != nil {
				return fmt.Errorf("mint emission prize: %w", err)
			}
		}
		series.MintedBudget += mint
	}

	series.EmissionRuns++
	metrics.RecordEmissionRun()
	s.log.Infof("series %d emission run %d minted %d", series.MaturityKey, runIdx+1, mint)
	return nil
}

// resolveLocked settles a matured series: one coin-flip lane pick (falling
// back to the non-empty lane), the ticketed draw curve over the winning
// lane, and the half-pool claim reserve at a fixed price.
func (s *Service) resolveLocked(ctx context.Context, series *bond.Series, seed entropy.Seed) error {
	lane := int(seed.Sub("lane-pick", series.MaturityKey).Bit(0))
	if series.Lanes[lane].Total == 0 && series.Lanes[1-lane].Total > 0 {
		lane = 1 - lane
	}

	winning := series.Lanes[lane]
	if winning.Total > 0 {
		half := winning.Total / 2

		var drawTotal uint64
		for _, bps := range bond.TicketDrawBps {
			drawTotal += bond.DrawAmount(winning.Total, bps)
		}
		if err := s.deps.Funds.Withdraw(ctx, drawTotal); err != nil {
			return fmt.Errorf("withdraw draw payouts: %w", err)
		}

		for i, bps := range bond.TicketDrawBps {
			amount := bond.DrawAmount(winning.Total, bps)
			if amount == 0 {
				continue
			}
			winner, ok := winning.Index.Pick(seed.Sub("draw", series.MaturityKey, uint64(i)))
			if !ok {
				continue
			}
			if _, err := s.store.SaveDraw(ctx, storage.DrawRecord{
				MaturityKey: series.MaturityKey,
				DrawIndex:   i,
				Lane:        lane,
				Winner:      winner,
				Amount:      amount,
			}); err != nil {
				s.log.WithError(err).Warnf("persist draw for series %d", series.MaturityKey)
			}
			s.log.Infof("series %d draw %d: %d to %s", series.MaturityKey, i, amount, winner)
		}

		series.ClaimPrice = bond.ClaimPriceFor(half, winning.Total)
		series.Unclaimed = half
	}

	series.Resolved = true
	series.WinningLane = lane
	s.prevRaise = series.Raised
	metrics.RecordResolution(lane)
	s.log.Infof("series %d resolved: lane %d, claim price %d, reserve %d",
		series.MaturityKey, lane, series.ClaimPrice, series.Unclaimed)
	return nil
}

// archiveLocked advances the cursor past resolved series, folding their
// remaining claim reserve into the pooled total.
func (s *Service) archiveLocked(touched map[uint64]*bond.Series) {
	for s.activeIndex < len(s.order) {
		series := s.series[s.order[s.activeIndex]]
		if !series.Resolved {
			return
		}
		series.Archived = true
		s.resolvedUnclaimed += series.Unclaimed
		series.Unclaimed = 0
		s.activeIndex++
		touched[series.MaturityKey] = series
		s.log.Debugf("series %d archived", series.MaturityKey)
	}
}

// conservationHoldsLocked checks the funding invariant: the pool must cover
// the pooled unclaimed reserve plus every live series' required cover.
func (s *Service) conservationHoldsLocked(ctx context.Context, level uint64) (bool, error) {
	available, err := s.deps.Funds.AvailableFunds(ctx)
	if err != nil {
		return false, fmt.Errorf("available funds: %w", err)
	}

	required := s.resolvedUnclaimed
	for _, key := range s.order[s.activeIndex:] {
		required += s.series[key].RequiredCover(level)
	}
	return available >= required, nil
}

func collect(touched map[uint64]*bond.Series) []*bond.Series {
	out := make([]*bond.Series, 0, len(touched))
	for _, series := range touched {
		out = append(out, series)
	}
	return out
}
