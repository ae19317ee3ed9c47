// Package leaderboard models the bucket-denominator jackpot: participants
// choose a denominator d and are hashed into one of d sub-buckets; resolution
// draws one winning sub-bucket per denominator and the winners share the pool
// pro rata by burn.
package leaderboard

// Denominator bounds for bucket entries.
const (
	MinDenominator = 2
	MaxDenominator = 10
)

// Entry is one participant's locked position in a round. The (denominator,
// bucket) pair is fixed on first entry; later burns only grow Burn.
type Entry struct {
	Participant string `json:"participant"`
	Denominator uint64 `json:"denominator"`
	Bucket      uint64 `json:"bucket"`
	Burn        uint64 `json:"burn"`
	Claimed     bool   `json:"claimed"`
}

// Round is one leaderboard jackpot round keyed by level.
type Round struct {
	Level     uint64 `json:"level"`
	Pool      uint64 `json:"pool"`       // snapshotted at resolution
	TotalBurn uint64 `json:"total_burn"` // burns across all winning sub-buckets
	Resolved  bool   `json:"resolved"`

	// Winning maps each denominator to its drawn sub-bucket.
	Winning map[uint64]uint64 `json:"winning,omitempty"`

	Entries map[string]*Entry `json:"entries"`
	// Buckets aggregates burn per (denominator, sub-bucket).
	Buckets map[uint64]map[uint64]uint64 `json:"buckets"`
}

// NewRound returns an empty round for the given level.
func NewRound(level uint64) *Round {
	return &Round{
		Level:   level,
		Entries: make(map[string]*Entry),
		Buckets: make(map[uint64]map[uint64]uint64),
	}
}

// Record adds a burn for the participant's locked bucket.
func (r *Round) Record(e *Entry, amount uint64) {
	e.Burn += amount
	buckets := r.Buckets[e.Denominator]
	if buckets == nil {
		buckets = make(map[uint64]uint64)
		r.Buckets[e.Denominator] = buckets
	}
	buckets[e.Bucket] += amount
}

// Won reports whether the entry's locked sub-bucket was drawn for its
// denominator.
func (r *Round) Won(e *Entry) bool {
	if !r.Resolved {
		return false
	}
	winning, ok := r.Winning[e.Denominator]
	return ok && winning == e.Bucket
}
