package client

import (
	"time"

	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

// ConnState is the controller's view of the server connection.
type ConnState int

const (
	Disconnected ConnState = iota
	// Connecting waits for a current_round snapshot. Live events are
	// buffered until it arrives.
	Connecting
	Synced
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// BetState tracks the user's bet on the current round.
type BetState int

const (
	BetNone BetState = iota
	// BetPending covers a submitted bet awaiting acceptance and an
	// accepted bet awaiting settlement.
	BetPending
	BetSettled
)

func (s BetState) String() string {
	switch s {
	case BetNone:
		return "none"
	case BetPending:
		return "pending"
	case BetSettled:
		return "settled"
	}
	return "unknown"
}

// Event is an input to Controller.Handle.
type Event interface {
	isEvent()
}

// Server events carry a seq and are buffered while connecting.
type (
	RoundUpdated    struct{ protocol.RoundUpdateData }
	ResultRevealed  struct{ protocol.RoundResultData }
	BetSettledEvent struct{ protocol.BetSettledData }
	TimerUpdated    struct{ protocol.TimerUpdateData }
)

// Local events follow the user's own requests.
type (
	BetSubmitted   struct{ Request protocol.PlaceBetData }
	BetAccepted    struct{ protocol.BetPlacedData }
	BetRejected    struct{ protocol.ErrorData }
	BalanceUpdated struct{ Balance int64 }
)

func (RoundUpdated) isEvent()    {}
func (ResultRevealed) isEvent()  {}
func (BetSettledEvent) isEvent() {}
func (TimerUpdated) isEvent()    {}
func (BetSubmitted) isEvent()    {}
func (BetAccepted) isEvent()     {}
func (BetRejected) isEvent()     {}
func (BalanceUpdated) isEvent()  {}

func headerOf(ev Event) (protocol.EventHeader, bool) {
	switch e := ev.(type) {
	case RoundUpdated:
		return e.EventHeader, true
	case ResultRevealed:
		return e.EventHeader, true
	case BetSettledEvent:
		return e.EventHeader, true
	case TimerUpdated:
		return e.EventHeader, true
	}
	return protocol.EventHeader{}, false
}

const (
	maxResults    = 10
	maxAppliedIDs = 64
)

// View is a copy of the controller state for rendering.
type View struct {
	Conn       ConnState
	Mode       round.Mode
	Round      round.Round
	BetState   BetState
	Request    *protocol.PlaceBetData
	Bet        *round.Bet
	Settlement *protocol.BetSettledData
	Balance    int64
	LastError  *protocol.ErrorData
	// Results holds recent revealed results, newest first.
	Results []protocol.RoundResultData
	// Queued counts results waiting for a presentation to end.
	Queued     int
	Presenting bool
}

// Controller reconciles server events into client state. It performs no
// I/O and is not safe for concurrent use.
type Controller struct {
	conn   ConnState
	mode   round.Mode
	round  round.Round
	seq    uint64
	offset time.Duration

	buffered []Event

	betState   BetState
	request    *protocol.PlaceBetData
	bet        *round.Bet
	settlement *protocol.BetSettledData
	balance    int64
	lastError  *protocol.ErrorData

	presenting bool
	queued     []protocol.RoundResultData
	results    []protocol.RoundResultData
	applied    map[string]bool
	appliedIDs []string
}

// NewController returns a disconnected controller following mode.
func NewController(mode round.Mode) *Controller {
	return &Controller{mode: mode, applied: make(map[string]bool)}
}

// State returns the connection state.
func (c *Controller) State() ConnState { return c.conn }

// Mode returns the followed mode.
func (c *Controller) Mode() round.Mode { return c.mode }

// Round returns the current round.
func (c *Controller) Round() round.Round { return c.round }

// BetState returns the state of the user's bet.
func (c *Controller) BetState() BetState { return c.betState }

// Connected marks a new connection. The caller must request current_round;
// events are buffered until ApplySnapshot.
func (c *Controller) Connected() {
	c.conn = Connecting
	c.buffered = nil
}

// Disconnected drops the connection but keeps local state.
func (c *Controller) Disconnected() {
	c.conn = Disconnected
	c.buffered = nil
}

// SwitchMode follows another mode. State for the previous mode is
// discarded and a new snapshot is required.
func (c *Controller) SwitchMode(mode round.Mode) {
	c.mode = mode
	c.round = round.Round{}
	c.seq = 0
	c.resetBet()
	c.results = nil
	c.queued = nil
	if c.conn == Synced {
		c.conn = Connecting
	}
	c.buffered = nil
}

// ApplySnapshot installs a current_round snapshot taken at server time
// snap.ServerTime and received at local time now, then replays buffered
// events newer than it. It returns results to present.
func (c *Controller) ApplySnapshot(snap protocol.CurrentRoundData, now time.Time) []protocol.RoundResultData {
	if snap.Mode != "" && snap.Mode != c.mode {
		return nil
	}
	if c.conn == Synced && snap.Seq < c.seq {
		return nil
	}

	previous := c.round.ID
	c.round = snap.Round
	c.round.Result = nil
	c.seq = snap.Seq
	if !snap.ServerTime.IsZero() {
		c.offset = snap.ServerTime.Sub(now)
	}

	switch {
	case snap.Bet != nil && snap.Bet.RoundID == snap.Round.ID:
		bet := *snap.Bet
		c.bet = &bet
		c.request = nil
		c.betState = BetPending
	case c.bet != nil && c.bet.RoundID != snap.Round.ID:
		// A settlement missed while disconnected; the balance is refreshed
		// separately.
		c.resetBet()
	case c.bet == nil && c.request != nil:
		// The reply to the submission was lost with the connection and the
		// server holds no bet for this round.
		c.resetBet()
	}

	var reveals []protocol.RoundResultData
	if last := snap.LastResult; last != nil {
		if last.RoundID == previous {
			reveals = append(reveals, c.reveal(*last)...)
		} else {
			c.record(*last)
		}
	}

	buffered := c.buffered
	c.buffered = nil
	c.conn = Synced
	for _, ev := range buffered {
		if h, _ := headerOf(ev); h.Seq <= c.seq {
			continue
		}
		reveals = append(reveals, c.Handle(ev)...)
	}
	return reveals
}

// Handle applies ev and returns any results that should now be presented.
// Server events for another mode, or older than the last applied seq, are
// ignored.
func (c *Controller) Handle(ev Event) []protocol.RoundResultData {
	if h, ok := headerOf(ev); ok {
		if h.Mode != "" && h.Mode != c.mode {
			return nil
		}
		if c.conn != Synced {
			c.buffered = append(c.buffered, ev)
			return nil
		}
		if h.Seq <= c.seq {
			return nil
		}
		c.seq = h.Seq
	}

	switch e := ev.(type) {
	case RoundUpdated:
		c.handleRoundUpdate(e.RoundUpdateData)

	case ResultRevealed:
		if e.RoundID == c.round.ID {
			v := e.ResultValue
			c.round.Result = &v
			c.round.Seed = e.Seed
		}
		return c.reveal(e.RoundResultData)

	case BetSettledEvent:
		if c.bet != nil && c.bet.ID == e.BetID {
			data := e.BetSettledData
			c.settlement = &data
			c.betState = BetSettled
			c.balance += e.Payout
		}

	case TimerUpdated:
		// Advisory only; the countdown is derived from EndTime.

	case BetSubmitted:
		if c.betState != BetNone {
			return nil
		}
		req := e.Request
		c.request = &req
		c.betState = BetPending
		c.lastError = nil

	case BetAccepted:
		bet := e.Bet
		c.bet = &bet
		c.request = nil
		c.balance = e.Balance
		if bet.RoundID == c.round.ID {
			c.betState = BetPending
		}

	case BetRejected:
		data := e.ErrorData
		c.lastError = &data
		if c.bet == nil {
			c.resetBet()
		}

	case BalanceUpdated:
		c.balance = e.Balance
	}
	return nil
}

func (c *Controller) handleRoundUpdate(u protocol.RoundUpdateData) {
	if u.RoundID != c.round.ID {
		if u.Status != round.StatusBetting {
			return
		}
		c.round = round.Round{
			ID:        u.RoundID,
			Mode:      u.Mode,
			Status:    u.Status,
			StartTime: u.StartTime,
			EndTime:   u.EndTime,
			SeedHash:  u.SeedHash,
		}
		if c.betState == BetSettled || (c.bet == nil && (c.request == nil || c.request.RoundID != u.RoundID)) {
			c.resetBet()
		}
		return
	}
	c.round.Status = u.Status
	c.round.EndTime = u.EndTime
	if u.SeedHash != "" {
		c.round.SeedHash = u.SeedHash
	}
}

func (c *Controller) resetBet() {
	c.betState = BetNone
	c.request = nil
	c.bet = nil
	c.settlement = nil
}

// reveal applies r once, queueing it while a presentation is running.
func (c *Controller) reveal(r protocol.RoundResultData) []protocol.RoundResultData {
	if c.applied[r.RoundID] {
		return nil
	}
	for _, q := range c.queued {
		if q.RoundID == r.RoundID {
			return nil
		}
	}
	if c.presenting {
		c.queued = append(c.queued, r)
		return nil
	}
	c.record(r)
	return []protocol.RoundResultData{r}
}

// record marks r applied and adds it to the result history.
func (c *Controller) record(r protocol.RoundResultData) {
	if c.applied[r.RoundID] {
		return
	}
	c.applied[r.RoundID] = true
	c.appliedIDs = append(c.appliedIDs, r.RoundID)
	if len(c.appliedIDs) > maxAppliedIDs {
		delete(c.applied, c.appliedIDs[0])
		c.appliedIDs = c.appliedIDs[1:]
	}

	c.results = append([]protocol.RoundResultData{r}, c.results...)
	if len(c.results) > maxResults {
		c.results = c.results[:maxResults]
	}
}

// BeginPresentation holds new results until EndPresentation.
func (c *Controller) BeginPresentation() {
	c.presenting = true
}

// EndPresentation applies queued results in arrival order and returns them.
func (c *Controller) EndPresentation() []protocol.RoundResultData {
	c.presenting = false
	queued := c.queued
	c.queued = nil

	var out []protocol.RoundResultData
	for _, r := range queued {
		out = append(out, c.reveal(r)...)
	}
	return out
}

// TimeLeft is the betting time remaining at local time now, corrected by
// the server clock offset learned from the last snapshot.
func (c *Controller) TimeLeft(now time.Time) time.Duration {
	if c.round.Status != round.StatusBetting || c.round.EndTime.IsZero() {
		return 0
	}
	left := c.round.EndTime.Sub(now.Add(c.offset))
	if left < 0 {
		return 0
	}
	return left
}

// CanBet reports whether a new bet may be submitted.
func (c *Controller) CanBet() bool {
	return c.conn == Synced && c.round.Status == round.StatusBetting && c.betState == BetNone
}

// View returns a copy of the state.
func (c *Controller) View() View {
	v := View{
		Conn:       c.conn,
		Mode:       c.mode,
		Round:      c.round,
		BetState:   c.betState,
		Balance:    c.balance,
		Results:    append([]protocol.RoundResultData(nil), c.results...),
		Queued:     len(c.queued),
		Presenting: c.presenting,
	}
	if c.round.Result != nil {
		r := *c.round.Result
		v.Round.Result = &r
	}
	if c.request != nil {
		req := *c.request
		v.Request = &req
	}
	if c.bet != nil {
		b := *c.bet
		v.Bet = &b
	}
	if c.settlement != nil {
		s := *c.settlement
		v.Settlement = &s
	}
	if c.lastError != nil {
		e := *c.lastError
		v.LastError = &e
	}
	return v
}
