// Package sampling implements proportional random selection over an
// append-only weighted index. The same structure backs the deposit score
// index, both burn lanes of a series, and the leaderboard buckets.
package sampling

import (
	"sort"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
)

// Index records participants with a running cumulative weight. Entries are
// only ever appended; selection runs a binary search over the cumulative
// column, so every unit of weight carries equal probability mass regardless
// of insertion order.
type Index struct {
	Participants []string `json:"participants"`
	Cumulative   []uint64 `json:"cumulative"`
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// Append records a participant with the given weight. Zero weights are
// ignored so the cumulative column stays strictly increasing.
func (ix *Index) Append(participant string, weight uint64) {
	if weight == 0 {
		return
	}
	ix.Participants = append(ix.Participants, participant)
	ix.Cumulative = append(ix.Cumulative, ix.Total()+weight)
}

// Total returns the sum of all recorded weights.
func (ix *Index) Total() uint64 {
	if len(ix.Cumulative) == 0 {
		return 0
	}
	return ix.Cumulative[len(ix.Cumulative)-1]
}

// Len returns the number of recorded entries.
func (ix *Index) Len() int {
	return len(ix.Participants)
}

// Pick selects a participant with probability proportional to weight using
// the supplied seed. ok is false when the index carries no weight; callers
// must treat that as a no-op, not an error.
func (ix *Index) Pick(seed entropy.Seed) (string, bool) {
	total := ix.Total()
	if total == 0 {
		return "", false
	}
	target := seed.Mod(total)
	i := sort.Search(len(ix.Cumulative), func(i int) bool {
		return ix.Cumulative[i] > target
	})
	return ix.Participants[i], true
}
