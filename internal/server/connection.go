package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

// Connection represents a websocket client following one mode.
type Connection struct {
	conn      *websocket.Conn
	send      chan *protocol.Message
	engine    *engine.Engine
	userID    string
	mode      round.Mode
	sub       *engine.Subscription
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewConnection wraps conn.
func NewConnection(conn *websocket.Conn, e *engine.Engine, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:   conn,
		send:   make(chan *protocol.Message, 256),
		engine: e,
		logger: logger.WithPrefix("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close closes the connection and its subscription.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.sub != nil {
			c.sub.Close()
			c.sub = nil
		}
		c.mu.Unlock()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues msg for the client. A client that cannot keep up is
// disconnected.
func (c *Connection) SendMessage(msg *protocol.Message) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "user", c.User())
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// SetUser associates this connection with a user.
func (c *Connection) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// User returns the associated user ID.
func (c *Connection) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Mode returns the mode the connection is following.
func (c *Connection) Mode() round.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Subscribe switches the event stream to mode and queues a fresh
// current_round snapshot. Events older than the snapshot's seq can be
// discarded by the client.
func (c *Connection) Subscribe(mode round.Mode) error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	sub, err := c.engine.Subscribe(mode, engine.SubscribeOptions{UserID: c.userID})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.sub != nil {
		c.sub.Close()
	}
	c.sub = sub
	c.mode = mode
	c.mu.Unlock()

	go c.forward(sub)
	c.sendSnapshot(mode, "")
	return nil
}

// forward relays events from sub until it closes. A subscription dropped
// for falling behind is replaced and the client resynced from a snapshot.
func (c *Connection) forward(sub *engine.Subscription) {
	for ev := range sub.C {
		msg, err := eventMessage(ev)
		if err != nil {
			c.logger.Error("Failed to encode event", "event", ev.EventType(), "error", err)
			continue
		}
		if err := c.SendMessage(msg); err != nil {
			return
		}
	}

	if !sub.Dropped() || c.ctx.Err() != nil {
		return
	}
	c.mu.RLock()
	current := c.sub == sub
	mode := c.mode
	c.mu.RUnlock()
	if !current {
		return
	}

	c.logger.Warn("Subscription dropped, resyncing", "user", c.User(), "mode", mode)
	if err := c.Subscribe(mode); err != nil {
		c.logger.Error("Failed to resubscribe", "mode", mode, "error", err)
		_ = c.Close()
	}
}

func (c *Connection) sendSnapshot(mode round.Mode, requestID string) {
	snap, err := c.engine.CurrentRound(mode, c.User())
	if err != nil {
		c.sendError(requestID, err)
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeCurrentRound, currentRoundData(mode, snap))
	if err != nil {
		c.logger.Error("Failed to create snapshot message", "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.SendMessage(msg)
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Time allowed for a bet to clear the ledger
	requestTimeout = 10 * time.Second
)

var (
	ErrConnectionClosed = websocket.ErrCloseSent
	errUnauthenticated  = errors.New("authenticate first")
	errInvalidMessage   = errors.New("invalid message")
)

// readPump handles incoming messages from the client.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage processes incoming messages from the client.
func (c *Connection) handleMessage(msg *protocol.Message) {
	c.logger.Debug("Received message", "type", msg.Type, "user", c.User())

	switch msg.Type {
	case protocol.TypeAuth:
		var data protocol.AuthData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg.RequestID, errInvalidMessage)
			return
		}
		c.handleAuth(msg, data)

	case protocol.TypeSubscribe:
		var data protocol.SubscribeData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg.RequestID, errInvalidMessage)
			return
		}
		if err := c.Subscribe(data.Mode); err != nil {
			c.sendError(msg.RequestID, err)
		}

	case protocol.TypeGetCurrentRound:
		var data protocol.GetCurrentRoundData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg.RequestID, errInvalidMessage)
			return
		}
		mode := data.Mode
		if mode == "" {
			mode = c.Mode()
		}
		c.sendSnapshot(mode, msg.RequestID)

	case protocol.TypePlaceBet:
		var data protocol.PlaceBetData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg.RequestID, errInvalidMessage)
			return
		}
		c.handlePlaceBet(msg, data)

	case protocol.TypeGetBalance:
		c.handleGetBalance(msg)

	case protocol.TypeGetHistory:
		var data protocol.GetHistoryData
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg.RequestID, errInvalidMessage)
			return
		}
		if data.Mode == "" {
			data.Mode = c.Mode()
		}
		c.handleGetHistory(msg, data)

	default:
		c.sendErrorCode(msg.RequestID, "unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// sendError reports err to the client using its wire code.
func (c *Connection) sendError(requestID string, err error) {
	code := engine.ErrorCode(err)
	switch {
	case errors.Is(err, errUnauthenticated):
		code = "unauthenticated"
	case errors.Is(err, errInvalidMessage):
		code = "invalid_message"
	}
	c.sendErrorCode(requestID, code, err.Error())
}

func (c *Connection) sendErrorCode(requestID, code, message string) {
	errorMsg, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	errorMsg.RequestID = requestID
	_ = c.SendMessage(errorMsg)
}

func (c *Connection) reply(req *protocol.Message, t protocol.MessageType, data any) {
	msg, err := req.Reply(t, data)
	if err != nil {
		c.logger.Error("Failed to create reply", "type", t, "error", err)
		return
	}
	_ = c.SendMessage(msg)
}

func (c *Connection) handleAuth(msg *protocol.Message, data protocol.AuthData) {
	c.logger.Info("Auth request", "user", data.UserID)

	if data.UserID == "" {
		c.sendErrorCode(msg.RequestID, "invalid_auth", "User ID required")
		return
	}

	c.SetUser(data.UserID)

	// Resubscribe so targeted events for this user are delivered.
	mode := c.Mode()
	if mode != "" {
		if err := c.Subscribe(mode); err != nil {
			c.sendError(msg.RequestID, err)
			return
		}
	}

	c.reply(msg, protocol.TypeAuthResponse, protocol.AuthResponseData{
		Success: true,
		UserID:  data.UserID,
		Mode:    mode,
	})
}

func (c *Connection) handlePlaceBet(msg *protocol.Message, data protocol.PlaceBetData) {
	user := c.User()
	if user == "" {
		c.sendError(msg.RequestID, errUnauthenticated)
		return
	}
	if data.Mode == "" {
		data.Mode = c.Mode()
	}

	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()

	bet, err := c.engine.PlaceBet(ctx, betRequest(user, data))
	if err != nil {
		c.logger.Debug("Bet rejected", "user", user, "round", data.RoundID, "error", err)
		c.sendError(msg.RequestID, err)
		return
	}

	balance, err := c.engine.Balance(ctx, user)
	if err != nil {
		c.logger.Warn("Failed to read balance after bet", "user", user, "error", err)
	}
	c.reply(msg, protocol.TypeBetPlaced, protocol.BetPlacedData{Bet: bet, Balance: balance})
}

func (c *Connection) handleGetBalance(msg *protocol.Message) {
	user := c.User()
	if user == "" {
		c.sendError(msg.RequestID, errUnauthenticated)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()

	balance, err := c.engine.Balance(ctx, user)
	if err != nil {
		c.sendError(msg.RequestID, err)
		return
	}
	c.reply(msg, protocol.TypeBalance, protocol.BalanceData{UserID: user, Balance: balance})
}

func (c *Connection) handleGetHistory(msg *protocol.Message, data protocol.GetHistoryData) {
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()

	summaries, err := c.engine.History(ctx, data.Mode, data.Limit)
	if err != nil {
		c.sendError(msg.RequestID, err)
		return
	}
	c.reply(msg, protocol.TypeHistory, historyData(data.Mode, summaries))
}
