package simulator

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/round"
)

func testConfig(rounds, workers int) Config {
	return Config{
		Rounds:  rounds,
		Workers: workers,
		Seed:    12345,
		Stake:   100,
		Payouts: round.DefaultPayoutTable(),
		Logger:  log.NewWithOptions(io.Discard, log.Options{Level: log.WarnLevel}),
	}
}

func TestNew(t *testing.T) {
	sim := New(Config{Rounds: 10})
	assert.Equal(t, 1, sim.config.Workers)
	assert.Equal(t, int64(100), sim.config.Stake)
	assert.NotNil(t, sim.config.Logger)
}

func TestRunRejectsZeroRounds(t *testing.T) {
	_, err := New(testConfig(0, 1)).Run(context.Background())
	assert.Error(t, err)
}

func TestRunIsDeterministic(t *testing.T) {
	a, err := New(testConfig(5000, 4)).Run(context.Background())
	require.NoError(t, err)
	b, err := New(testConfig(5000, 4)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Digits, b.Digits)
	assert.Equal(t, a.String(), b.String())
}

func TestObservedRTPApproachesTheoretical(t *testing.T) {
	report, err := New(testConfig(200000, 8)).Run(context.Background())
	require.NoError(t, err)

	total := 0
	for _, c := range report.Digits {
		total += c
	}
	assert.Equal(t, 200000, total)
	require.Len(t, report.Selections, len(round.AllSelections()))

	tolerance := decimal.RequireFromString("0.05")
	for _, s := range report.Selections {
		assert.True(t, s.Theoretical.LessThanOrEqual(decimal.RequireFromString("0.95")), "%s %s", s.Kind, s.Value)
		diff := s.Observed.Sub(s.Theoretical).Abs()
		assert.True(t, diff.LessThan(tolerance), "%s %s observed %s theoretical %s", s.Kind, s.Value, s.Observed, s.Theoretical)
	}
}

func TestWinsMatchDigits(t *testing.T) {
	report, err := New(testConfig(1000, 3)).Run(context.Background())
	require.NoError(t, err)

	for _, s := range report.Selections {
		if s.Kind != round.KindNumber {
			continue
		}
		d := int(s.Value[0] - '0')
		assert.Equal(t, report.Digits[d], s.Wins)
		assert.Equal(t, int64(report.Digits[d])*900, s.Paid)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(1000, 2)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
