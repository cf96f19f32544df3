// Package util provides utility functions for the Fernly application.
package util

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Random is the source of randomness the engine draws from. *rand.Rand satisfies it,
// so tests can pass a seeded generator and get reproducible replies.
type Random interface {
	IntN(n int) int
	Float64() float64
}

// globalRandom adapts the package-level math/rand/v2 functions to Random.
type globalRandom struct{}

func (globalRandom) IntN(n int) int   { return rand.IntN(n) }
func (globalRandom) Float64() float64 { return rand.Float64() }

// DefaultRandom returns a Random backed by the auto-seeded global generator.
func DefaultRandom() Random {
	return globalRandom{}
}

// NewSeededRandom returns a deterministic generator for the given seed.
func NewSeededRandom(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Pick returns a uniformly chosen element of items, or the zero value if items is empty.
func Pick[T any](r Random, items []T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[r.IntN(len(items))]
}

// Chance reports true with probability p.
func Chance(r Random, p float64) bool {
	return r.Float64() < p
}

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateResponseID generates a unique response ID with "r_" prefix.
func GenerateResponseID() string {
	return GenerateRandomID("r_", 32)
}

// lockedRandom serializes access to a generator that is not safe for concurrent use.
type lockedRandom struct {
	mu sync.Mutex
	r  Random
}

// NewLockedRandom wraps r so it can be shared between goroutines.
func NewLockedRandom(r Random) Random {
	return &lockedRandom{r: r}
}

func (l *lockedRandom) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRandom) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
