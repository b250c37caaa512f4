// Package client connects to a wingo server and keeps a Controller in sync
// with the round stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrCannotBet    = errors.New("betting is not open")
	ErrSendBuffer   = errors.New("send buffer full")
)

// Observer is told about every state change. reveals lists results that
// became ready for presentation, in order.
type Observer interface {
	Update(v View, reveals []protocol.RoundResultData)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(v View, reveals []protocol.RoundResultData)

func (f ObserverFunc) Update(v View, reveals []protocol.RoundResultData) { f(v, reveals) }

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is a websocket client that reconnects until its context ends.
type Client struct {
	serverURL  string
	userID     string
	clock      quartz.Clock
	logger     *log.Logger
	observer   Observer
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	ctrl      *Controller
	send      chan *protocol.Message
	nextID    uint64
	betReqID  string
	connected bool
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for backoff, pings and the countdown.
func WithClock(clock quartz.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithObserver registers o for state changes.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = minDelay
		c.maxBackoff = maxDelay
	}
}

// NewClient creates a client for userID following mode.
func NewClient(serverURL, userID string, mode round.Mode, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		serverURL:  serverURL,
		userID:     userID,
		clock:      quartz.NewReal(),
		logger:     logger.WithPrefix("client"),
		observer:   ObserverFunc(func(View, []protocol.RoundResultData) {}),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		ctrl:       NewController(mode),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wsURL converts the server URL into the websocket endpoint.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	q := u.Query()
	if c.userID != "" {
		q.Set("user", c.userID)
	}
	c.mu.Lock()
	q.Set("mode", string(c.ctrl.Mode()))
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and reconnects with backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			c.serve(ctx, conn)
		} else {
			c.logger.Warn("Connect failed", "url", c.serverURL, "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		delay := c.backoff(attempt)
		attempt++
		c.logger.Info("Reconnecting", "delay", delay)
		timer := c.clock.NewTimer(delay, "client", "reconnect")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.minBackoff
	for i := 0; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	return min(d, c.maxBackoff)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := c.wsURL()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Connecting to server", "url", u)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// serve runs one connection until it closes.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	send := make(chan *protocol.Message, 256)

	c.mu.Lock()
	c.send = send
	c.connected = true
	c.ctrl.Connected()
	mode := c.ctrl.Mode()
	c.mu.Unlock()
	c.notify(nil)
	c.logger.Info("Connected to server", "mode", mode)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go c.writePump(conn, send, done)

	_ = c.request(protocol.TypeGetCurrentRound, protocol.GetCurrentRoundData{Mode: mode})
	c.readPump(conn)
	close(done)

	c.mu.Lock()
	c.send = nil
	c.connected = false
	c.betReqID = ""
	c.ctrl.Disconnected()
	c.mu.Unlock()
	c.notify(nil)
	c.logger.Info("Disconnected from server")
}

// readPump handles incoming messages from the server
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.logger.Debug("Received message", "type", msg.Type)
		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump(conn *websocket.Conn, send <-chan *protocol.Message, done <-chan struct{}) {
	ticker := c.clock.NewTicker(pingPeriod, "client", "ping")
	defer ticker.Stop()

	for {
		select {
		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				_ = conn.Close()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}

		case <-done:
			return
		}
	}
}

// request sends a message with a fresh request ID and returns the ID.
func (c *Client) request(mt protocol.MessageType, data any) error {
	_, err := c.requestID(mt, data)
	return err
}

func (c *Client) requestID(mt protocol.MessageType, data any) (string, error) {
	msg, err := protocol.NewMessage(mt, data)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(msg)
}

func (c *Client) sendLocked(msg *protocol.Message) (string, error) {
	if c.send == nil {
		return "", ErrNotConnected
	}
	c.nextID++
	msg.RequestID = strconv.FormatUint(c.nextID, 10)

	select {
	case c.send <- msg:
		return msg.RequestID, nil
	default:
		return "", ErrSendBuffer
	}
}

func (c *Client) handleMessage(msg *protocol.Message) {
	var (
		reveals []protocol.RoundResultData
		err     error
	)

	c.mu.Lock()
	switch msg.Type {
	case protocol.TypeCurrentRound:
		var data protocol.CurrentRoundData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.ApplySnapshot(data, c.clock.Now())
			if c.userID != "" {
				balance, _ := protocol.NewMessage(protocol.TypeGetBalance, nil)
				_, _ = c.sendLocked(balance)
			}
		}

	case protocol.TypeRoundUpdate:
		var data protocol.RoundUpdateData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.Handle(RoundUpdated{data})
		}

	case protocol.TypeRoundResult:
		var data protocol.RoundResultData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.Handle(ResultRevealed{data})
		}

	case protocol.TypeTimerUpdate:
		var data protocol.TimerUpdateData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.Handle(TimerUpdated{data})
		}

	case protocol.TypeBetSettled:
		var data protocol.BetSettledData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.Handle(BetSettledEvent{data})
		}

	case protocol.TypeBetPlaced:
		var data protocol.BetPlacedData
		if err = msg.Decode(&data); err == nil {
			c.betReqID = ""
			reveals = c.ctrl.Handle(BetAccepted{data})
		}

	case protocol.TypeBalance:
		var data protocol.BalanceData
		if err = msg.Decode(&data); err == nil {
			reveals = c.ctrl.Handle(BalanceUpdated{Balance: data.Balance})
		}

	case protocol.TypeError:
		var data protocol.ErrorData
		if err = msg.Decode(&data); err == nil {
			if msg.RequestID != "" && msg.RequestID == c.betReqID {
				c.betReqID = ""
				reveals = c.ctrl.Handle(BetRejected{data})
			} else {
				c.logger.Warn("Server error", "code", data.Code, "message", data.Message)
			}
		}

	default:
		c.mu.Unlock()
		c.logger.Debug("Ignoring message", "type", msg.Type)
		return
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to decode message", "type", msg.Type, "error", err)
		return
	}
	c.notify(reveals)
}

func (c *Client) notify(reveals []protocol.RoundResultData) {
	c.observer.Update(c.View(), reveals)
}

// PlaceBet submits a bet on the current round. The outcome arrives as a
// state change.
func (c *Client) PlaceBet(kind round.Kind, selection string, stake, multiplier int64) error {
	if err := round.ValidateSelection(kind, selection); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.ctrl.CanBet() {
		c.mu.Unlock()
		return ErrCannotBet
	}
	req := protocol.PlaceBetData{
		RoundID:    c.ctrl.Round().ID,
		Mode:       c.ctrl.Mode(),
		Kind:       kind,
		Selection:  selection,
		Stake:      stake,
		Multiplier: multiplier,
	}
	msg, err := protocol.NewMessage(protocol.TypePlaceBet, req)
	if err == nil {
		var id string
		if id, err = c.sendLocked(msg); err == nil {
			c.betReqID = id
			c.ctrl.Handle(BetSubmitted{Request: req})
		}
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.notify(nil)
	return nil
}

// SwitchMode follows another mode.
func (c *Client) SwitchMode(mode round.Mode) error {
	c.mu.Lock()
	c.ctrl.SwitchMode(mode)
	msg, err := protocol.NewMessage(protocol.TypeSubscribe, protocol.SubscribeData{Mode: mode})
	if err == nil && c.send != nil {
		_, err = c.sendLocked(msg)
	}
	c.mu.Unlock()

	c.notify(nil)
	return err
}

// BeginPresentation holds result reveals until EndPresentation.
func (c *Client) BeginPresentation() {
	c.mu.Lock()
	c.ctrl.BeginPresentation()
	c.mu.Unlock()
}

// EndPresentation releases held results to the observer.
func (c *Client) EndPresentation() {
	c.mu.Lock()
	reveals := c.ctrl.EndPresentation()
	c.mu.Unlock()
	c.notify(reveals)
}

// View returns the current state.
func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl.View()
}

// TimeLeft returns the betting time remaining on the current round.
func (c *Client) TimeLeft() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl.TimeLeft(c.clock.Now())
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
