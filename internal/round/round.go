// Package round defines rounds, bets and the rules that settle them.
package round

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrResultAlreadySet  = errors.New("round: result already set")
	ErrResultOutOfRange  = errors.New("round: result out of range")
	ErrIllegalTransition = errors.New("round: illegal status transition")
)

// Mode is a named round duration class such as "30sec".
type Mode string

func (m Mode) String() string {
	return string(m)
}

// ModeConfig binds a mode name to its round duration.
type ModeConfig struct {
	Name     Mode
	Duration time.Duration
}

// DefaultModes returns the four standard round cadences.
func DefaultModes() []ModeConfig {
	return []ModeConfig{
		{Name: "30sec", Duration: 30 * time.Second},
		{Name: "1min", Duration: time.Minute},
		{Name: "3min", Duration: 3 * time.Minute},
		{Name: "5min", Duration: 5 * time.Minute},
	}
}

// Status is the phase of a round.
type Status string

const (
	StatusBetting   Status = "betting"
	StatusLocked    Status = "locked"
	StatusSettling  Status = "settling"
	StatusCompleted Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether moving from one status to another is legal.
// Phases only move forward, one step at a time.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusBetting:
		return to == StatusLocked
	case StatusLocked:
		return to == StatusSettling
	case StatusSettling:
		return to == StatusCompleted
	}
	return false
}

// Round is one timed cycle of betting, locking and result reveal.
type Round struct {
	ID        string    `json:"id"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Result    *int      `json:"resultValue,omitempty"`

	// SeedHash commits to the outcome before betting closes; Seed reveals it
	// once the round completes. Both are empty for non-committing generators.
	SeedHash string `json:"seedHash,omitempty"`
	Seed     string `json:"seed,omitempty"`
}

// New creates a round in the betting phase.
func New(id string, mode Mode, start time.Time, duration time.Duration) *Round {
	return &Round{
		ID:        id,
		Mode:      mode,
		Status:    StatusBetting,
		StartTime: start,
		EndTime:   start.Add(duration),
	}
}

// Transition moves the round to the next status.
func (r *Round) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// SetResult commits the outcome. It can only be called once.
func (r *Round) SetResult(v int) error {
	if r.Result != nil {
		return ErrResultAlreadySet
	}
	if v < 0 || v > 9 {
		return fmt.Errorf("%w: %d", ErrResultOutOfRange, v)
	}
	r.Result = &v
	return nil
}

// HasResult reports whether the outcome has been committed.
func (r *Round) HasResult() bool {
	return r.Result != nil
}

// Color returns the colour of the committed result, or "" before commit.
func (r *Round) Color() Color {
	if r.Result == nil {
		return ""
	}
	return ColorOf(*r.Result)
}

// Size returns the size of the committed result, or "" before commit.
func (r *Round) Size() Size {
	if r.Result == nil {
		return ""
	}
	return SizeOf(*r.Result)
}

// TimeLeft returns the time remaining until the round locks, never negative.
func (r *Round) TimeLeft(now time.Time) time.Duration {
	d := r.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a copy that shares no mutable state with r.
func (r *Round) Clone() *Round {
	c := *r
	if r.Result != nil {
		v := *r.Result
		c.Result = &v
	}
	return &c
}
