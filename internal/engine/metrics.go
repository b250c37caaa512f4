package engine

import (
	"time"

	"github.com/lox/wingo/internal/round"
)

// Metrics receives engine measurements.
type Metrics interface {
	BetPlaced(mode round.Mode, kind round.Kind, amount int64)
	BetRejected(mode round.Mode, code string)
	RoundCompleted(mode round.Mode, bets int, staked, paid int64, settle time.Duration)
	SettlementRetry(mode round.Mode)
}

type nopMetrics struct{}

func (nopMetrics) BetPlaced(round.Mode, round.Kind, int64) {}
func (nopMetrics) BetRejected(round.Mode, string) {}
func (nopMetrics) RoundCompleted(round.Mode, int, int64, int64, time.Duration) {}
func (nopMetrics) SettlementRetry(round.Mode) {}
