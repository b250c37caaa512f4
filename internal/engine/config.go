package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/lox/wingo/internal/round"
)

// Config holds the betting rules and timing shared by every mode.
type Config struct {
	Modes       []round.ModeConfig
	MinBet      int64
	MaxBet      int64
	Multipliers []int64
	Payouts     round.PayoutTable

	// DebitAttempts bounds how often a transient ledger failure is retried
	// while placing a bet.
	DebitAttempts int
	// RetryBackoff is the first delay between retries, doubling up to
	// MaxRetryBackoff. Zero retries immediately.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	SettleConcurrency int
	// A round that completes later than this past its end time starts the
	// next round now instead of at the previous end time.
	DriftTolerance   time.Duration
	SubscriberBuffer int
}

// DefaultConfig returns the standard rules.
func DefaultConfig() Config {
	return Config{
		Modes:             round.DefaultModes(),
		MinBet:            10,
		MaxBet:            100000,
		Multipliers:       []int64{1, 2, 5, 10, 20, 50, 100},
		Payouts:           round.DefaultPayoutTable(),
		DebitAttempts:     3,
		RetryBackoff:      100 * time.Millisecond,
		MaxRetryBackoff:   5 * time.Second,
		SettleConcurrency: 16,
		DriftTolerance:    time.Second,
		SubscriberBuffer:  64,
	}
}

func (c Config) validate() error {
	if len(c.Modes) == 0 {
		return fmt.Errorf("at least one mode is required")
	}
	seen := make(map[round.Mode]bool)
	for _, m := range c.Modes {
		if m.Name == "" {
			return fmt.Errorf("mode name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate mode %q", m.Name)
		}
		seen[m.Name] = true
		if m.Duration <= 0 {
			return fmt.Errorf("mode %q: duration must be positive", m.Name)
		}
	}
	if c.MinBet <= 0 || c.MaxBet < c.MinBet {
		return fmt.Errorf("invalid bet limits: min %d max %d", c.MinBet, c.MaxBet)
	}
	if len(c.Multipliers) == 0 || slices.ContainsFunc(c.Multipliers, func(m int64) bool { return m <= 0 }) {
		return fmt.Errorf("multipliers must be positive")
	}
	if c.DebitAttempts <= 0 {
		return fmt.Errorf("debit attempts must be positive")
	}
	return nil
}

func (c Config) backoff(attempt int) time.Duration {
	if c.RetryBackoff <= 0 {
		return 0
	}
	d := c.RetryBackoff
	for i := 1; i < attempt && d < c.MaxRetryBackoff; i++ {
		d *= 2
	}
	if c.MaxRetryBackoff > 0 && d > c.MaxRetryBackoff {
		d = c.MaxRetryBackoff
	}
	return d
}
