package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

const testMode round.Mode = "30sec"

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestEngine(t *testing.T, gen outcome.Generator, ledger wallet.Ledger, mutate ...func(*Config)) (*Engine, *quartz.Mock) {
	t.Helper()
	clk := quartz.NewMock(t)
	cfg := DefaultConfig()
	cfg.Modes = []round.ModeConfig{{Name: testMode, Duration: 30 * time.Second}}
	cfg.RetryBackoff = 0
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(testLogger(), cfg, WithClock(clk), WithLedger(ledger), WithGenerator(gen))
	require.NoError(t, err)
	return e, clk
}

func currentRoundID(t *testing.T, e *Engine) string {
	t.Helper()
	snap, err := e.CurrentRound(testMode, "")
	require.NoError(t, err)
	return snap.Round.ID
}

func bet(roundID, user string, kind round.Kind, selection string, stake, multiplier int64) BetRequest {
	return BetRequest{
		UserID:     user,
		Mode:       testMode,
		RoundID:    roundID,
		Kind:       kind,
		Selection:  selection,
		Stake:      stake,
		Multiplier: multiplier,
	}
}

// finishRound moves the clock past the current round's end and settles it.
func finishRound(t *testing.T, e *Engine, clk *quartz.Mock) {
	t.Helper()
	ctx := context.Background()
	clk.Advance(30 * time.Second).MustWait(ctx)
	require.NoError(t, e.Advance(ctx))
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

// gatedLedger blocks debits or credits until released.
type gatedLedger struct {
	*wallet.Memory
	debitGate     chan struct{}
	debitEntered  chan struct{}
	creditGate    chan struct{}
	creditEntered chan struct{}
}

func (g *gatedLedger) Debit(ctx context.Context, userID string, amount int64, key string) error {
	if g.debitGate != nil {
		g.debitEntered <- struct{}{}
		<-g.debitGate
	}
	return g.Memory.Debit(ctx, userID, amount, key)
}

func (g *gatedLedger) Credit(ctx context.Context, userID string, amount int64, key string) error {
	if g.creditGate != nil {
		g.creditEntered <- struct{}{}
		<-g.creditGate
	}
	return g.Memory.Credit(ctx, userID, amount, key)
}

// flakyLedger fails the first N debits and credits as unavailable. With
// lostReplies set, a failing debit is applied before the error is returned.
type flakyLedger struct {
	*wallet.Memory
	lostReplies    bool
	debitFailures  atomic.Int32
	creditFailures atomic.Int32
	debitCalls     atomic.Int32
	creditCalls    atomic.Int32
}

func (f *flakyLedger) Debit(ctx context.Context, userID string, amount int64, key string) error {
	f.debitCalls.Add(1)
	if f.debitFailures.Add(-1) >= 0 {
		if f.lostReplies {
			_ = f.Memory.Debit(ctx, userID, amount, key)
		}
		return wallet.ErrLedgerUnavailable
	}
	return f.Memory.Debit(ctx, userID, amount, key)
}

func (f *flakyLedger) Credit(ctx context.Context, userID string, amount int64, key string) error {
	f.creditCalls.Add(1)
	if f.creditFailures.Add(-1) >= 0 {
		return wallet.ErrLedgerUnavailable
	}
	return f.Memory.Credit(ctx, userID, amount, key)
}

// flakyGenerator fails a number of times before yielding value.
type flakyGenerator struct {
	mu       sync.Mutex
	failures int
	value    int
	calls    int
}

func (g *flakyGenerator) Generate(ctx context.Context, _ string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failures > 0 {
		g.failures--
		return 0, io.ErrUnexpectedEOF
	}
	return g.value, nil
}

func (g *flakyGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type countingMetrics struct {
	nopMetrics
	placed   atomic.Int32
	rejected sync.Map
	retries  atomic.Int32
	rounds   atomic.Int32
}

func (m *countingMetrics) BetPlaced(round.Mode, round.Kind, int64) { m.placed.Add(1) }

func (m *countingMetrics) BetRejected(_ round.Mode, code string) {
	v, _ := m.rejected.LoadOrStore(code, new(atomic.Int32))
	v.(*atomic.Int32).Add(1)
}

func (m *countingMetrics) SettlementRetry(round.Mode) { m.retries.Add(1) }

func (m *countingMetrics) RoundCompleted(round.Mode, int, int64, int64, time.Duration) {
	m.rounds.Add(1)
}

func (m *countingMetrics) rejections(code string) int32 {
	v, ok := m.rejected.Load(code)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

// recommitGenerator reports a foreign hash for the next wrong re-commits
// of a round, as a generator that evicted the round's seed would.
type recommitGenerator struct {
	*outcome.ProvablyFair
	mu        sync.Mutex
	wrong     int
	seen      map[string]bool
	generated int
}

func (g *recommitGenerator) Commit(roundID string) (string, error) {
	hash, err := g.ProvablyFair.Commit(roundID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[roundID] && g.wrong > 0 {
		g.wrong--
		return "foreign", err
	}
	g.seen[roundID] = true
	return hash, err
}

func (g *recommitGenerator) Generate(ctx context.Context, roundID string) (int, error) {
	g.mu.Lock()
	g.generated++
	g.mu.Unlock()
	return g.ProvablyFair.Generate(ctx, roundID)
}
