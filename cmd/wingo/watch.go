package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/wingo/internal/protocol"
)

type WatchCmd struct {
	Server   string `short:"s" default:"ws://localhost:8080/ws" env:"WINGO_WS" help:"WebSocket endpoint"`
	Mode     string `short:"m" default:"30sec" help:"Mode to watch"`
	User     string `short:"u" help:"User whose targeted events are included"`
	Timers   bool   `help:"Include per-second timer updates"`
	LogLevel string `default:"info" help:"Log level (debug|info|warn|error)"`
}

func (c *WatchCmd) Run() error {
	logger := newLogger(os.Stderr, c.LogLevel).WithPrefix("watch")
	ctx, cancel := signalContext(logger)
	defer cancel()

	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("mode", c.Mode)
	if c.User != "" {
		q.Set("user", c.User)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()
	logger.Info("Watching", "server", c.Server, "mode", c.Mode)

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if msg.Type == protocol.TypeTimerUpdate && !c.Timers {
			continue
		}
		logMessage(logger, &msg)
	}
}

func logMessage(logger *log.Logger, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeRoundResult:
		var r protocol.RoundResultData
		if err := msg.Decode(&r); err == nil {
			logger.Info("Result", "round", r.RoundID, "value", r.ResultValue, "color", r.ResultColor, "size", r.ResultSize, "seq", r.Seq)
			return
		}
	case protocol.TypeRoundUpdate:
		var r protocol.RoundUpdateData
		if err := msg.Decode(&r); err == nil {
			logger.Info("Round", "round", r.RoundID, "status", r.Status, "ends", r.EndTime.Format("15:04:05"), "seq", r.Seq)
			return
		}
	case protocol.TypeBetSettled:
		var s protocol.BetSettledData
		if err := msg.Decode(&s); err == nil {
			logger.Info("Settled", "round", s.RoundID, "bet", s.BetID, "won", s.Won, "payout", s.Payout)
			return
		}
	}
	logger.Info(msg.Type.String(), "data", string(msg.Data))
}
