package protocol

import (
	"time"

	"github.com/lox/wingo/internal/round"
)

// Client to server payloads

type AuthData struct {
	UserID string `json:"userId"`
}

type SubscribeData struct {
	Mode round.Mode `json:"mode"`
}

type GetCurrentRoundData struct {
	Mode round.Mode `json:"mode,omitempty"`
}

type PlaceBetData struct {
	RoundID    string     `json:"roundId"`
	Mode       round.Mode `json:"mode,omitempty"`
	Kind       round.Kind `json:"kind"`
	Selection  string     `json:"selection"`
	Stake      int64      `json:"stake"`
	Multiplier int64      `json:"multiplier"`
}

type GetHistoryData struct {
	Mode  round.Mode `json:"mode,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// Server to client payloads

type AuthResponseData struct {
	Success bool       `json:"success"`
	UserID  string     `json:"userId,omitempty"`
	Mode    round.Mode `json:"mode,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BetPlacedData struct {
	Bet     round.Bet `json:"bet"`
	Balance int64     `json:"balance"`
}

type BalanceData struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// CurrentRoundData answers get_current_round. Round never carries a result;
// the last completed round's result is in LastResult.
type CurrentRoundData struct {
	Mode            round.Mode       `json:"mode"`
	Round           round.Round      `json:"round"`
	Seq             uint64           `json:"seq"`
	ServerTime      time.Time        `json:"serverTime"`
	TimeLeftSeconds int              `json:"timeLeftSeconds"`
	LastResult      *RoundResultData `json:"lastResult,omitempty"`
	Bet             *round.Bet       `json:"bet,omitempty"`
}

type HistoryEntry struct {
	RoundID     string      `json:"roundId"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     time.Time   `json:"endTime"`
	ResultValue int         `json:"resultValue"`
	ResultColor round.Color `json:"resultColor"`
	ResultSize  round.Size  `json:"resultSize"`
	Bets        int         `json:"bets"`
	Staked      int64       `json:"staked"`
	Paid        int64       `json:"paid"`
	SeedHash    string      `json:"seedHash,omitempty"`
	Seed        string      `json:"seed,omitempty"`
}

type HistoryData struct {
	Mode   round.Mode     `json:"mode"`
	Rounds []HistoryEntry `json:"rounds"`
}

type ModeInfo struct {
	Name            round.Mode `json:"name"`
	DurationSeconds int        `json:"durationSeconds"`
}

type ModesData struct {
	Modes       []ModeInfo `json:"modes"`
	MinBet      int64      `json:"minBet"`
	MaxBet      int64      `json:"maxBet"`
	Multipliers []int64    `json:"multipliers"`
}

// Push events

// EventHeader is shared by every pushed event.
type EventHeader struct {
	Mode    round.Mode `json:"mode"`
	RoundID string     `json:"roundId"`
	Seq     uint64     `json:"seq"`
}

type RoundUpdateData struct {
	EventHeader
	Status    round.Status `json:"status"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	SeedHash  string       `json:"seedHash,omitempty"`
}

type RoundResultData struct {
	EventHeader
	ResultValue int         `json:"resultValue"`
	ResultColor round.Color `json:"resultColor"`
	ResultSize  round.Size  `json:"resultSize"`
	Seed        string      `json:"seed,omitempty"`
	SeedHash    string      `json:"seedHash,omitempty"`
}

type TimerUpdateData struct {
	EventHeader
	TimeLeftSeconds int `json:"timeLeftSeconds"`
}

type BetSettledData struct {
	EventHeader
	BetID  string `json:"betId"`
	Won    bool   `json:"won"`
	Payout int64  `json:"payout"`
}
