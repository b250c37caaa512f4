package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/outcome"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/wallet"
)

func TestSettlementScenarios(t *testing.T) {
	t.Parallel()

	t.Run("green on five credits 190", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		ledger := wallet.NewMemory(1000)
		e, clk := newTestEngine(t, outcome.NewFixed(5), ledger)

		placed, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "alice", round.KindColor, "green", 100, 1))
		require.NoError(t, err)

		bal, _ := e.Balance(ctx, "alice")
		assert.Equal(t, int64(900), bal, "stake is debited at placement")

		finishRound(t, e, clk)

		bal, _ = e.Balance(ctx, "alice")
		assert.Equal(t, int64(1090), bal)

		history, err := e.History(ctx, testMode, 1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, int64(100), history[0].Staked)
		assert.Equal(t, int64(190), history[0].Paid)
		require.Len(t, history[0].Settlements, 1)
		assert.Equal(t, placed.ID, history[0].Settlements[0].BetID)
		assert.True(t, history[0].Settlements[0].Won)
	})

	t.Run("number seven with multiplier credits 900", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		ledger := wallet.NewMemory(1000)
		e, clk := newTestEngine(t, outcome.NewFixed(7), ledger)

		_, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "bob", round.KindNumber, "7", 50, 2))
		require.NoError(t, err)
		finishRound(t, e, clk)

		bal, _ := e.Balance(ctx, "bob")
		assert.Equal(t, int64(1000-100+900), bal)
	})
}

func TestLedgerTotalsMatchBets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := wallet.NewMemory(10000)
	e, clk := newTestEngine(t, outcome.NewFixed(3), ledger)
	roundID := currentRoundID(t, e)

	reqs := []BetRequest{
		bet(roundID, "u1", round.KindColor, "violet", 100, 1),
		bet(roundID, "u2", round.KindColor, "red", 100, 5),
		bet(roundID, "u3", round.KindSize, "small", 20, 10),
		bet(roundID, "u4", round.KindNumber, "3", 10, 1),
		bet(roundID, "u5", round.KindNumber, "4", 10, 1),
	}
	var wantDebits int64
	for _, req := range reqs {
		_, err := e.PlaceBet(ctx, req)
		require.NoError(t, err)
		wantDebits += req.Stake * req.Multiplier
	}
	finishRound(t, e, clk)

	history, err := e.History(ctx, testMode, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)

	var debits, credits, payouts int64
	for _, entry := range ledger.Entries() {
		switch entry.Op {
		case "debit":
			debits += entry.Amount
		case "credit":
			credits += entry.Amount
		}
	}
	for _, s := range history[0].Settlements {
		payouts += s.Payout
	}
	assert.Equal(t, wantDebits, debits)
	assert.Equal(t, history[0].Staked, debits)
	assert.Equal(t, payouts, credits)
	// violet 237 + small 380 + number 90
	assert.Equal(t, int64(237+380+90), credits)
}

func TestConcurrentDuplicateBet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t, outcome.NewFixed(0), wallet.NewMemory(1000))
	req := bet(currentRoundID(t, e), "carol", round.KindSize, "big", 100, 1)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = e.PlaceBet(ctx, req)
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateBet)
	}
	assert.Equal(t, 1, ok)

	bal, _ := e.Balance(ctx, "carol")
	assert.Equal(t, int64(900), bal, "only one debit applied")
}

func TestBetAfterLockIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := &countingMetrics{}
	e, clk := newTestEngine(t, outcome.NewFixed(1), wallet.NewMemory(1000))
	e.runners[testMode].metrics = m
	roundID := currentRoundID(t, e)

	// The end time has passed but nothing has advanced the round yet.
	clk.Advance(30 * time.Second).MustWait(ctx)

	_, err := e.PlaceBet(ctx, bet(roundID, "dave", round.KindColor, "red", 100, 1))
	require.ErrorIs(t, err, ErrRoundClosed)
	assert.Equal(t, int32(1), m.rejections("round_closed"))

	snap, err := e.CurrentRound(testMode, "dave")
	require.NoError(t, err)
	assert.Equal(t, round.StatusLocked, snap.Round.Status, "admission performed the lock")

	bal, _ := e.Balance(ctx, "dave")
	assert.Equal(t, int64(1000), bal, "nothing debited")

	require.NoError(t, e.Advance(ctx))
	assert.NotEqual(t, roundID, currentRoundID(t, e))

	_, err = e.PlaceBet(ctx, bet(roundID, "dave", round.KindColor, "red", 100, 1))
	require.ErrorIs(t, err, ErrRoundClosed, "stale round id")
}

func TestInflightBetIsSettledBeforeCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &gatedLedger{
		Memory:       wallet.NewMemory(1000),
		debitGate:    make(chan struct{}),
		debitEntered: make(chan struct{}, 1),
	}
	e, clk := newTestEngine(t, outcome.NewFixed(8), ledger)
	roundID := currentRoundID(t, e)

	betErr := make(chan error, 1)
	go func() {
		_, err := e.PlaceBet(ctx, bet(roundID, "erin", round.KindColor, "red", 100, 1))
		betErr <- err
	}()
	<-ledger.debitEntered

	clk.Advance(30 * time.Second).MustWait(ctx)
	advanced := make(chan error, 1)
	go func() { advanced <- e.Advance(ctx) }()

	waitForCondition(t, func() bool {
		snap, _ := e.CurrentRound(testMode, "")
		return snap.Round.Status == round.StatusLocked
	}, time.Second, "round should lock while the debit is in flight")

	select {
	case <-advanced:
		t.Fatal("round settled before the in-flight debit finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(ledger.debitGate)
	require.NoError(t, <-betErr)
	require.NoError(t, <-advanced)

	bal, _ := e.Balance(ctx, "erin")
	assert.Equal(t, int64(1090), bal)
}

func TestSettlementRetriesFailedCredits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &flakyLedger{Memory: wallet.NewMemory(1000)}
	ledger.creditFailures.Store(3)
	m := &countingMetrics{}
	e, clk := newTestEngine(t, outcome.NewFixed(5), ledger)
	e.runners[testMode].metrics = m
	roundID := currentRoundID(t, e)

	_, err := e.PlaceBet(ctx, bet(roundID, "frank", round.KindColor, "green", 100, 1))
	require.NoError(t, err)
	_, err = e.PlaceBet(ctx, bet(roundID, "gina", round.KindColor, "red", 100, 1))
	require.NoError(t, err)

	finishRound(t, e, clk)

	assert.Equal(t, int32(3), m.retries.Load())
	assert.Equal(t, int32(4), ledger.creditCalls.Load(), "losers never reach the ledger")
	bal, _ := e.Balance(ctx, "frank")
	assert.Equal(t, int64(1090), bal)
	bal, _ = e.Balance(ctx, "gina")
	assert.Equal(t, int64(900), bal)
}

func TestCreditFailureHoldsRoundInSettling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &flakyLedger{Memory: wallet.NewMemory(1000)}
	ledger.creditFailures.Store(1 << 20)
	gen := &flakyGenerator{value: 5}
	e, clk := newTestEngine(t, gen, ledger)
	roundID := currentRoundID(t, e)

	_, err := e.PlaceBet(ctx, bet(roundID, "hank", round.KindColor, "green", 100, 1))
	require.NoError(t, err)

	clk.Advance(30 * time.Second).MustWait(ctx)
	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = e.Advance(cctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := e.CurrentRound(testMode, "hank")
	require.NoError(t, err)
	assert.Equal(t, roundID, snap.Round.ID)
	assert.Equal(t, round.StatusSettling, snap.Round.Status)
	assert.Nil(t, snap.Round.Result, "result is hidden while settling")

	ledger.creditFailures.Store(0)
	require.NoError(t, e.Advance(ctx))
	assert.Equal(t, 1, gen.Calls(), "outcome is not regenerated on retry")

	bal, _ := e.Balance(ctx, "hank")
	assert.Equal(t, int64(1090), bal)
}

func TestOutcomeFailureIsRetried(t *testing.T) {
	t.Parallel()
	gen := &flakyGenerator{failures: 2, value: 6}
	m := &countingMetrics{}
	e, clk := newTestEngine(t, gen, wallet.NewMemory(1000))
	e.runners[testMode].metrics = m

	finishRound(t, e, clk)
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, int32(2), m.retries.Load())

	snap, err := e.CurrentRound(testMode, "")
	require.NoError(t, err)
	require.NotNil(t, snap.LastResult)
	assert.Equal(t, 6, snap.LastResult.ResultValue)
	assert.Equal(t, round.ColorRed, snap.LastResult.ResultColor)
	assert.Equal(t, round.SizeBig, snap.LastResult.ResultSize)
}

func TestReplayedSettlementDoesNotDoubleCredit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := wallet.NewMemory(1000)
	e, clk := newTestEngine(t, outcome.NewFixed(5), ledger)
	r := e.runners[testMode]

	_, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "ivy", round.KindColor, "green", 100, 1))
	require.NoError(t, err)
	st := r.cur
	finishRound(t, e, clk)

	require.NoError(t, r.settle(ctx, st))

	// Even with the engine's own bookkeeping lost, the ledger key holds.
	r.mu.Lock()
	st.credited = make(map[string]bool)
	r.mu.Unlock()
	require.NoError(t, r.settle(ctx, st))

	bal, _ := e.Balance(ctx, "ivy")
	assert.Equal(t, int64(1090), bal)
	credits := 0
	for _, entry := range ledger.Entries() {
		if entry.Op == "credit" {
			credits++
		}
	}
	assert.Equal(t, 1, credits)
}

func TestNextRoundTiming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("starts at previous end", func(t *testing.T) {
		t.Parallel()
		e, clk := newTestEngine(t, outcome.NewFixed(2), wallet.NewMemory(0))
		first, _ := e.CurrentRound(testMode, "")

		clk.Advance(30*time.Second + 200*time.Millisecond).MustWait(ctx)
		require.NoError(t, e.Advance(ctx))

		next, _ := e.CurrentRound(testMode, "")
		assert.Equal(t, first.Round.EndTime, next.Round.StartTime)
		assert.Equal(t, first.Round.EndTime.Add(30*time.Second), next.Round.EndTime)
		assert.Equal(t, round.StatusBetting, next.Round.Status)
	})

	t.Run("starts now after drift", func(t *testing.T) {
		t.Parallel()
		e, clk := newTestEngine(t, outcome.NewFixed(2), wallet.NewMemory(0))

		clk.Advance(45 * time.Second).MustWait(ctx)
		require.NoError(t, e.Advance(ctx))

		next, _ := e.CurrentRound(testMode, "")
		assert.Equal(t, clk.Now(), next.Round.StartTime)
	})

	t.Run("advance before end is a no-op", func(t *testing.T) {
		t.Parallel()
		e, clk := newTestEngine(t, outcome.NewFixed(2), wallet.NewMemory(0))
		id := currentRoundID(t, e)
		clk.Advance(29 * time.Second).MustWait(ctx)
		require.NoError(t, e.Advance(ctx))
		assert.Equal(t, id, currentRoundID(t, e))
	})
}

func TestPlaceBetValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ledger := &flakyLedger{Memory: wallet.NewMemory(500)}
	e, _ := newTestEngine(t, outcome.NewFixed(0), ledger, func(c *Config) {
		c.MinBet = 10
		c.MaxBet = 1000
		c.DebitAttempts = 3
	})
	roundID := currentRoundID(t, e)

	tests := []struct {
		name string
		req  BetRequest
		want error
	}{
		{"unknown colour", bet(roundID, "u", round.KindColor, "blue", 100, 1), ErrInvalidSelection},
		{"number out of range", bet(roundID, "u", round.KindNumber, "12", 100, 1), ErrInvalidSelection},
		{"unknown kind", bet(roundID, "u", "parity", "odd", 100, 1), ErrInvalidSelection},
		{"missing user", bet(roundID, "", round.KindColor, "red", 100, 1), ErrInvalidSelection},
		{"multiplier not offered", bet(roundID, "u", round.KindColor, "red", 100, 3), ErrInvalidMultiplier},
		{"stake below min", bet(roundID, "u", round.KindColor, "red", 9, 1), ErrStakeOutOfRange},
		{"stake above max", bet(roundID, "u", round.KindColor, "red", 1001, 1), ErrStakeOutOfRange},
		{"multiplied stake above max", bet(roundID, "u", round.KindColor, "red", 100, 20), ErrStakeOutOfRange},
		{"wrong round", bet("rnd_other", "u", round.KindColor, "red", 100, 1), ErrRoundClosed},
		{"insufficient balance", bet(roundID, "u", round.KindColor, "red", 100, 10), ErrInsufficientBalance},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.PlaceBet(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("unknown mode", func(t *testing.T) {
		req := bet(roundID, "u", round.KindColor, "red", 100, 1)
		req.Mode = "10min"
		_, err := e.PlaceBet(ctx, req)
		assert.ErrorIs(t, err, ErrUnknownMode)
	})

	t.Run("failed placement does not block a retry", func(t *testing.T) {
		_, err := e.PlaceBet(ctx, bet(roundID, "u", round.KindColor, "red", 100, 1))
		require.NoError(t, err)
	})
}

func TestLedgerUnavailableIsRetriedThenFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("recovers within attempts", func(t *testing.T) {
		t.Parallel()
		ledger := &flakyLedger{Memory: wallet.NewMemory(1000)}
		ledger.debitFailures.Store(2)
		e, _ := newTestEngine(t, outcome.NewFixed(0), ledger)

		_, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "jo", round.KindColor, "red", 100, 1))
		require.NoError(t, err)
		assert.Equal(t, int32(3), ledger.debitCalls.Load())
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		t.Parallel()
		ledger := &flakyLedger{Memory: wallet.NewMemory(1000)}
		ledger.debitFailures.Store(10)
		e, _ := newTestEngine(t, outcome.NewFixed(0), ledger)

		_, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "jo", round.KindColor, "red", 100, 1))
		require.ErrorIs(t, err, ErrLedgerUnavailable)
		assert.Equal(t, int32(3), ledger.debitCalls.Load())

		snap, _ := e.CurrentRound(testMode, "jo")
		assert.Nil(t, snap.Bet, "no bet without a debit")
	})

	t.Run("reverses a debit applied behind a failure", func(t *testing.T) {
		t.Parallel()
		ledger := &flakyLedger{Memory: wallet.NewMemory(1000), lostReplies: true}
		ledger.debitFailures.Store(10)
		e, _ := newTestEngine(t, outcome.NewFixed(0), ledger)

		_, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "kim", round.KindColor, "red", 100, 1))
		require.ErrorIs(t, err, ErrLedgerUnavailable)

		bal, err := ledger.Balance(ctx, "kim")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), bal, "charge refunded")

		entries := ledger.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, "debit", entries[0].Op)
		assert.Equal(t, "reversal", entries[1].Op)
		assert.Equal(t, entries[0].Key, entries[1].Key)
	})
}

func TestSnapshotCarriesOwnBet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEngine(t, outcome.NewFixed(0), wallet.NewMemory(1000))

	placed, err := e.PlaceBet(ctx, bet(currentRoundID(t, e), "kim", round.KindSize, "small", 100, 5))
	require.NoError(t, err)

	snap, err := e.CurrentRound(testMode, "kim")
	require.NoError(t, err)
	require.NotNil(t, snap.Bet)
	assert.Equal(t, placed.ID, snap.Bet.ID)
	assert.Equal(t, 30, snap.TimeLeftSeconds)

	other, _ := e.CurrentRound(testMode, "lee")
	assert.Nil(t, other.Bet)

	_, err = e.CurrentRound("2min", "kim")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, "round_closed", ErrorCode(ErrRoundClosed))
	assert.Equal(t, "insufficient_balance", ErrorCode(wallet.ErrInsufficientBalance))
	assert.Equal(t, "ledger_unavailable", ErrorCode(errors.Join(errors.New("x"), wallet.ErrLedgerUnavailable)))
	assert.Equal(t, "invalid_selection", ErrorCode(round.ValidateSelection(round.KindSize, "huge")))
	assert.Equal(t, "internal_error", ErrorCode(errors.New("boom")))
}

func TestNewRequiresLedgerAndValidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(testLogger(), DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Modes = append(cfg.Modes, cfg.Modes[0])
	_, err = New(testLogger(), cfg, WithLedger(wallet.NewMemory(0)))
	assert.ErrorContains(t, err, "duplicate mode")
}

func TestConfigBackoff(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBackoff: 100 * time.Millisecond, MaxRetryBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, time.Second, cfg.backoff(10))
	assert.Equal(t, time.Duration(0), Config{}.backoff(5))
}
