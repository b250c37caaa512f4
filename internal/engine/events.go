package engine

import (
	"time"

	"github.com/lox/wingo/internal/round"
)

// EventType identifies a broadcast event.
type EventType string

const (
	EventRoundUpdate EventType = "round.update"
	EventRoundResult EventType = "round.result"
	EventTimerUpdate EventType = "timer.update"
	EventBetSettled  EventType = "bet.settled"
)

func (t EventType) String() string {
	return string(t)
}

// Event is anything published on a mode's broadcaster.
type Event interface {
	EventType() EventType
	Meta() EventMeta
}

// EventMeta is carried by every event. Seq increases by one for every
// event published on a mode, so subscribers can discard anything older
// than a snapshot they already hold.
type EventMeta struct {
	Mode    round.Mode `json:"mode"`
	RoundID string     `json:"roundId"`
	Seq     uint64     `json:"seq"`
	Time    time.Time  `json:"time"`
	// UserID is set on events meant for a single user only.
	UserID string `json:"-"`
}

func (m EventMeta) Meta() EventMeta {
	return m
}

// RoundUpdate announces a phase change.
type RoundUpdate struct {
	EventMeta
	Status    round.Status `json:"status"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	SeedHash  string       `json:"seedHash,omitempty"`
}

func (RoundUpdate) EventType() EventType { return EventRoundUpdate }

// RoundResult reveals the outcome once the round has completed.
type RoundResult struct {
	EventMeta
	ResultValue int         `json:"resultValue"`
	ResultColor round.Color `json:"resultColor"`
	ResultSize  round.Size  `json:"resultSize"`
	Seed        string      `json:"seed,omitempty"`
	SeedHash    string      `json:"seedHash,omitempty"`
}

func (RoundResult) EventType() EventType { return EventRoundResult }

// TimerUpdate is advisory; clients derive the countdown from EndTime.
type TimerUpdate struct {
	EventMeta
	TimeLeftSeconds int `json:"timeLeftSeconds"`
}

func (TimerUpdate) EventType() EventType { return EventTimerUpdate }

// BetSettled tells a bet's owner how it was settled.
type BetSettled struct {
	EventMeta
	BetID  string `json:"betId"`
	Won    bool   `json:"won"`
	Payout int64  `json:"payout"`
}

func (BetSettled) EventType() EventType { return EventBetSettled }
