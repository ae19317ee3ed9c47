package leaderboard

import "github.com/holiman/uint256"

// Payout is the pro-rata share of the round pool for one winning entry:
// pool x burn / totalBurn with a 256-bit intermediate.
func Payout(pool, burn, totalBurn uint64) uint64 {
	if totalBurn == 0 {
		return 0
	}
	num := new(uint256.Int).Mul(uint256.NewInt(pool), uint256.NewInt(burn))
	return num.Div(num, uint256.NewInt(totalBurn)).Uint64()
}
