package server

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

const testMode round.Mode = "30sec"

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

type testServer struct {
	engine *engine.Engine
	clock  *quartz.Mock
	server *Server
	http   *httptest.Server
	ledger *wallet.Memory
}

// newTestServer serves a single-mode engine that always draws value.
func newTestServer(t *testing.T, value int) *testServer {
	t.Helper()
	clk := quartz.NewMock(t)
	ledger := wallet.NewMemory(1000)

	cfg := engine.DefaultConfig()
	cfg.Modes = []round.ModeConfig{{Name: testMode, Duration: 30 * time.Second}}
	cfg.RetryBackoff = 0
	e, err := engine.New(testLogger(), cfg,
		engine.WithClock(clk),
		engine.WithLedger(ledger),
		engine.WithGenerator(outcome.NewFixed(value)),
	)
	require.NoError(t, err)

	s := NewServer(e, testLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return &testServer{engine: e, clock: clk, server: s, http: ts, ledger: ledger}
}

func (ts *testServer) roundID(t *testing.T) string {
	t.Helper()
	snap, err := ts.engine.CurrentRound(testMode, "")
	require.NoError(t, err)
	return snap.Round.ID
}

// finishRound moves past the round's end and settles it.
func (ts *testServer) finishRound(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	ts.clock.Advance(30 * time.Second).MustWait(ctx)
	require.NoError(t, ts.engine.Advance(ctx))
}

func (ts *testServer) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, requestID string, mt protocol.MessageType, data any) {
	t.Helper()
	msg, err := protocol.NewMessage(mt, data)
	require.NoError(t, err)
	msg.RequestID = requestID
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

// readUntil reads messages until one of type mt arrives, returning it and
// every message read before it.
func readUntil(t *testing.T, conn *websocket.Conn, mt protocol.MessageType) (*protocol.Message, []*protocol.Message) {
	t.Helper()
	var before []*protocol.Message
	for range 50 {
		msg := read(t, conn)
		if msg.Type == mt {
			return msg, before
		}
		before = append(before, msg)
	}
	t.Fatalf("no %s message", mt)
	return nil, nil
}

func waitForCondition(t *testing.T, condition func() bool, timeout time.Duration, errMsg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(errMsg)
}
