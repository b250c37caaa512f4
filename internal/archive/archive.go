// Package archive records completed rounds for the game history.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/lox/wingo/internal/round"
)

// Summary is the archived record of one completed round.
type Summary struct {
	Round       round.Round        `json:"round"`
	Bets        int                `json:"bets"`
	Staked      int64              `json:"staked"`
	Paid        int64              `json:"paid"`
	Settlements []round.Settlement `json:"settlements,omitempty"`
	CompletedAt time.Time          `json:"completedAt"`
}

// Store persists completed rounds.
type Store interface {
	SaveRound(ctx context.Context, s Summary) error
	// Recent returns up to limit rounds of a mode, newest first.
	Recent(ctx context.Context, mode round.Mode, limit int) ([]Summary, error)
}

// Memory keeps the last few rounds of every mode in memory.
type Memory struct {
	mu     sync.RWMutex
	limit  int
	rounds map[round.Mode][]Summary
}

// NewMemory returns a store keeping limit rounds per mode.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 100
	}
	return &Memory{limit: limit, rounds: make(map[round.Mode][]Summary)}
}

func (m *Memory) SaveRound(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(s)
	return nil
}

func (m *Memory) appendLocked(s Summary) {
	list := append(m.rounds[s.Round.Mode], s)
	if len(list) > m.limit {
		list = list[len(list)-m.limit:]
	}
	m.rounds[s.Round.Mode] = list
}

func (m *Memory) Recent(ctx context.Context, mode round.Mode, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.rounds[mode]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Summary, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Memory) all() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, list := range m.rounds {
		out = append(out, list...)
	}
	return out
}
