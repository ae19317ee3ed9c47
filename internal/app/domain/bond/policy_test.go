package bond

import "testing"

func TestGrowthMultiplierBps(t *testing.T) {
	cases := []struct {
		name      string
		raised    uint64
		prevRaise uint64
		want      uint64
	}{
		{"no prior series", 100, 0, 20_000},
		{"half of previous", 100, 200, 30_000},
		{"below half clamps to ceiling", 10, 200, 30_000},
		{"three quarters", 75, 100, 25_000},
		{"equal raise", 100, 100, 20_000},
		{"one and a half", 150, 100, 15_000},
		{"double", 200, 100, 10_000},
		{"above double clamps to floor", 500, 100, 10_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GrowthMultiplierBps(tc.raised, tc.prevRaise); got != tc.want {
				t.Fatalf("GrowthMultiplierBps(%d, %d) = %d, want %d", tc.raised, tc.prevRaise, got, tc.want)
			}
		})
	}
}

func TestTargetBudget(t *testing.T) {
	if got := TargetBudget(100, 200); got != 300 {
		t.Fatalf("half-raise target = %d, want 300", got)
	}
	if got := TargetBudget(1000, 0); got != 2000 {
		t.Fatalf("first-series target = %d, want 2000", got)
	}
	// Floor multiplier keeps the budget at least the raise.
	if got := TargetBudget(500, 100); got != 500 {
		t.Fatalf("floored target = %d, want 500", got)
	}
}

func TestRunScheduleSums(t *testing.T) {
	for _, first := range []bool{true, false} {
		sched := RunSchedule(first)
		var sum uint64
		for _, bps := range sched {
			sum += bps
		}
		if sum != 10_000 {
			t.Fatalf("schedule(first=%v) sums to %d bps", first, sum)
		}
	}
	if len(RunSchedule(true)) != 4 || len(RunSchedule(false)) != 5 {
		t.Fatal("unexpected schedule lengths")
	}
}

func TestSplitPrizeCurve(t *testing.T) {
	check := func(amount uint64, winners int) []uint64 {
		t.Helper()
		out := SplitPrizeCurve(amount, winners)
		if len(out) != winners {
			t.Fatalf("split(%d, %d): got %d amounts", amount, winners, len(out))
		}
		var sum uint64
		for _, a := range out {
			sum += a
		}
		if sum != amount {
			t.Fatalf("split(%d, %d): amounts sum to %d", amount, winners, sum)
		}
		return out
	}

	out := check(10_000, EmissionWinners)
	if out[0] != 2000 || out[1] != 1000 || out[2] != 500 || out[3] != 500 {
		t.Fatalf("named ranks = %v", out[:4])
	}
	// Tail of 6000 over 96 winners, last absorbs the dust.
	if out[4] != 62 || out[len(out)-1] != 110 {
		t.Fatalf("tail shares = %d .. %d", out[4], out[len(out)-1])
	}

	out = check(10_000, 3)
	if out[0] != 2000 || out[1] != 1000 || out[2] != 7000 {
		t.Fatalf("three winners = %v", out)
	}

	out = check(777, 1)
	if out[0] != 777 {
		t.Fatalf("single winner = %v", out)
	}

	if SplitPrizeCurve(0, 10) != nil || SplitPrizeCurve(100, 0) != nil {
		t.Fatal("degenerate splits must return nil")
	}
}

func TestTicketDrawBpsSum(t *testing.T) {
	var sum uint64
	for _, bps := range TicketDrawBps {
		sum += bps
	}
	if sum != 5_000 {
		t.Fatalf("draw curve sums to %d bps, want 5000", sum)
	}
}

func TestClaimPricing(t *testing.T) {
	price := ClaimPriceFor(500, 1000)
	if price != 500_000_000 {
		t.Fatalf("price = %d, want 500000000", price)
	}
	if got := ClaimPayout(200, price); got != 100 {
		t.Fatalf("payout = %d, want 100", got)
	}
	if got := ClaimPayout(0, price); got != 0 {
		t.Fatalf("zero burn payout = %d", got)
	}
	if ClaimPriceFor(500, 0) != 0 {
		t.Fatal("empty lane must price at zero")
	}
}

func TestDrawAmount(t *testing.T) {
	if got := DrawAmount(1000, 2000); got != 200 {
		t.Fatalf("draw = %d, want 200", got)
	}
	if got := DrawAmount(1000, 100); got != 10 {
		t.Fatalf("draw = %d, want 10", got)
	}
}
