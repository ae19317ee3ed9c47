package bond

import "github.com/holiman/uint256"

// Emission policy constants. Fractions are expressed in basis points.
const (
	bpsDenom = 10_000

	multFloorBps    = 10_000 // 1.0x
	multDefaultBps  = 20_000 // 2.0x when no prior series exists
	multCeilBps     = 30_000 // 3.0x

	// EmissionWinners is the number of winners drawn per scheduled run:
	// four named ranks plus an even split across the rest.
	EmissionWinners = 100
)

// Named rank fractions of each emission run (20/10/5/5%); the remaining 60%
// is split evenly across the other winners.
var emissionRankBps = []uint64{2000, 1000, 500, 500}

// TicketDrawBps is the resolution draw curve applied to a winning lane's burn
// total: four single draws of 20/10/5/5% plus ten 1% draws.
var TicketDrawBps = []uint64{2000, 1000, 500, 500, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100}

// RunSchedule returns the per-run mint fractions of a series' raise. The very
// first series runs a shorter, front-loaded schedule; every later series uses
// the five-run schedule. The final entry is nominal: the last run always
// mints exactly targetBudget - mintedBudget.
func RunSchedule(first bool) []uint64 {
	if first {
		return []uint64{2000, 1000, 1000, 6000}
	}
	return []uint64{1000, 1000, 1000, 1000, 6000}
}

// GrowthMultiplierBps maps the ratio raised/prevRaise onto the payout growth
// multiplier: 3.0x at ratio <= 0.5, linear down to 2.0x at ratio 1.0, linear
// down to 1.0x at ratio >= 2.0, clamped to [1.0x, 3.0x]. A zero prevRaise
// (no prior series) yields the 2.0x default.
func GrowthMultiplierBps(raised, prevRaise uint64) uint64 {
	if prevRaise == 0 {
		return multDefaultBps
	}
	ratio := mulDiv(raised, bpsDenom, prevRaise) // ratio in bps
	switch {
	case ratio <= 5_000:
		return multCeilBps
	case ratio < 10_000:
		// 3.0x at 0.5 down to 2.0x at 1.0
		return multCeilBps - 2*(ratio-5_000)
	case ratio < 20_000:
		// 2.0x at 1.0 down to 1.0x at 2.0
		return multCeilBps - ratio
	default:
		return multFloorBps
	}
}

// TargetBudget computes the series' final payout budget:
// max(raised, raised x growth multiplier).
func TargetBudget(raised, prevRaise uint64) uint64 {
	grown := mulDiv(raised, GrowthMultiplierBps(raised, prevRaise), bpsDenom)
	if grown < raised {
		return raised
	}
	return grown
}

// RunAmount is the nominal mint for a non-final scheduled run.
func RunAmount(raised, runBps uint64) uint64 {
	return mulDiv(raised, runBps, bpsDenom)
}

// ApplyBps scales an amount by a basis-point fraction.
func ApplyBps(amount, bps uint64) uint64 {
	return mulDiv(amount, bps, bpsDenom)
}

// SplitPrizeCurve divides an emission run's mint across winners: 20/10/5/5%
// to the four named ranks, the remainder split evenly with the last winner
// absorbing rounding dust. The returned amounts sum to amount exactly.
func SplitPrizeCurve(amount uint64, winners int) []uint64 {
	if winners <= 0 || amount == 0 {
		return nil
	}
	out := make([]uint64, 0, winners)
	var assigned uint64
	for _, bps := range emissionRankBps {
		if len(out) == winners-1 {
			break
		}
		cut := mulDiv(amount, bps, bpsDenom)
		out = append(out, cut)
		assigned += cut
	}
	rest := winners - len(out)
	tail := amount - assigned
	share := tail / uint64(rest)
	for i := 0; i < rest-1; i++ {
		out = append(out, share)
	}
	out = append(out, tail-share*uint64(rest-1))
	return out
}

// DrawAmount is the payout of one resolution draw as a fraction of the
// winning lane's burn total.
func DrawAmount(laneTotal, bps uint64) uint64 {
	return mulDiv(laneTotal, bps, bpsDenom)
}

// ClaimPriceFor computes the PriceScale-scaled value per unit burned.
func ClaimPriceFor(pool, laneTotal uint64) uint64 {
	if laneTotal == 0 {
		return 0
	}
	return mulDiv(pool, PriceScale, laneTotal)
}

// ClaimPayout prices a participant's burned amount at the fixed claim price.
func ClaimPayout(burned, claimPrice uint64) uint64 {
	return mulDiv(burned, claimPrice, PriceScale)
}

// mulDiv computes a*b/c with a 256-bit intermediate so fixed-point products
// cannot overflow.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	num := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	return num.Div(num, uint256.NewInt(c)).Uint64()
}
