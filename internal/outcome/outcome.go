// Package outcome produces round results.
package outcome

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	randv2 "math/rand/v2"
	"sync"
)

// Generator produces one result digit in [0,9] for a round.
type Generator interface {
	Generate(ctx context.Context, roundID string) (int, error)
}

// Committer is implemented by generators that publish a commitment before
// betting closes and reveal the secret once the round completes.
type Committer interface {
	Commit(roundID string) (hash string, err error)
	Reveal(roundID string) (seed string, ok bool)
}

// Crypto draws uniform digits from crypto/rand.
type Crypto struct{}

func (Crypto) Generate(ctx context.Context, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10))
	if err != nil {
		return 0, fmt.Errorf("read entropy: %w", err)
	}
	return int(n.Int64()), nil
}

const goldenRatio64 = 0x9e3779b97f4a7c15

// Seeded draws digits from a deterministic PCG stream. Identical seeds
// yield identical sequences, which makes it suitable for tests and
// simulation but never for live play.
type Seeded struct {
	mu  sync.Mutex
	rng *randv2.Rand
}

// NewSeeded returns a deterministic generator.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: NewRand(seed)}
}

func (s *Seeded) Generate(ctx context.Context, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(10), nil
}

// NewRand derives both PCG seeds from a single int64 so every caller gets
// the same stream for the same seed.
func NewRand(seed int64) *randv2.Rand {
	u := uint64(seed)
	return randv2.New(randv2.NewPCG(splitmix(u), splitmix(u+goldenRatio64)))
}

func splitmix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Fixed returns a scripted sequence of results, cycling when exhausted.
// Tests use it to force specific outcomes.
type Fixed struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixed returns a generator that yields values in order.
func NewFixed(values ...int) *Fixed {
	return &Fixed{values: values}
}

func (f *Fixed) Generate(ctx context.Context, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0, fmt.Errorf("fixed generator has no values")
	}
	v := f.values[f.next%len(f.values)]
	f.next++
	return v, nil
}
