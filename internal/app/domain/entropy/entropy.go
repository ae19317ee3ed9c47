// Package entropy defines the 256-bit seed type consumed by the settlement
// engine and the derivation scheme that turns one delivered seed into the
// independent sub-seeds required per draw.
package entropy

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Seed is a single-use 256-bit entropy value. The raw seed must never be
// used for more than one independent random choice; derive a sub-seed per
// draw via Sub instead.
type Seed [32]byte

// Zero is the absent seed. A zero seed means "entropy not ready".
var Zero Seed

// IsZero reports whether the seed is absent.
func (s Seed) IsZero() bool {
	return s == Zero
}

// Sub derives an independent sub-seed by hashing the seed together with a
// domain tag and the given salts (run index, draw index, participant slot).
func (s Seed) Sub(tag string, salts ...uint64) Seed {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(tag))
	h.Write(s[:])
	var buf [8]byte
	for _, salt := range salts {
		binary.BigEndian.PutUint64(buf[:], salt)
		h.Write(buf[:])
	}
	var out Seed
	h.Sum(out[:0])
	return out
}

// Mod reduces the seed modulo n, interpreting the seed as a big-endian
// 256-bit integer. n must be non-zero.
func (s Seed) Mod(n uint64) uint64 {
	v := new(uint256.Int).SetBytes(s[:])
	m := uint256.NewInt(n)
	return new(uint256.Int).Mod(v, m).Uint64()
}

// Bit returns bit i (little-endian order) of the seed.
func (s Seed) Bit(i uint) uint {
	byteIdx := len(s) - 1 - int(i/8)
	return uint(s[byteIdx]>>(i%8)) & 1
}

// String renders the seed as 0x-prefixed hex.
func (s Seed) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// SeedFromHex parses a 0x-prefixed or bare 64-character hex string.
func SeedFromHex(raw string) (Seed, error) {
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Zero, fmt.Errorf("decode seed: %w", err)
	}
	if len(b) != 32 {
		return Zero, fmt.Errorf("seed must be 32 bytes, got %d", len(b))
	}
	var s Seed
	copy(s[:], b)
	return s, nil
}

// AssignBucket deterministically hashes (key, participant) into one of n
// buckets. Both lane assignment and the leaderboard sub-buckets use this so
// downstream fairness tests know exactly which fields are hashed.
func AssignBucket(tag string, key uint64, participant string, n uint64) uint64 {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(tag))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	h.Write(buf[:])
	h.Write([]byte(participant))
	var out Seed
	h.Sum(out[:0])
	return out.Mod(n)
}

// Handle identifies a pending entropy request.
type Handle string

// Requester asks an external beacon for fresh entropy.
type Requester interface {
	Request(ctx context.Context) (Handle, error)
}

// Poller checks whether a previously requested seed has been delivered.
// Each handle is fulfilled at most once; a delivered seed is returned by
// exactly one successful poll.
type Poller interface {
	Poll(ctx context.Context, h Handle) (Seed, bool, error)
}
