package bond

import "context"

// LevelSource is the monotonically non-decreasing external clock driving
// maturity comparisons.
type LevelSource interface {
	CurrentLevel(ctx context.Context) (uint64, error)
}

// FundsPool is the shared reserve the conservation invariant checks against.
type FundsPool interface {
	AvailableFunds(ctx context.Context) (uint64, error)
	Deposit(ctx context.Context, amount uint64) error
	Withdraw(ctx context.Context, amount uint64) error
}

// ClaimToken is the mint/burn capability of one claim-token variant. The
// engine holds two, keyed by maturity-key parity, and duplicates no balance
// accounting of its own.
type ClaimToken interface {
	Mint(ctx context.Context, to string, amount uint64) error
	Burn(ctx context.Context, from string, amount uint64) error
	Balance(ctx context.Context, holder string) (uint64, error)
}

// ScoreSource supplies the external loyalty/streak multiplier applied to a
// deposit's score before it enters the cumulative index, in basis points
// (10000 = 1.0x).
type ScoreSource interface {
	Multiplier(ctx context.Context, participant string) (uint64, error)
}
