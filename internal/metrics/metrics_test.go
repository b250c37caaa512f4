package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/round"
	"github.com/lox/wingo/internal/server"
)

var (
	_ engine.Metrics           = (*Collector)(nil)
	_ server.ConnectionMetrics = (*Collector)(nil)
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()
	c := New()

	c.BetPlaced("30sec", round.KindColor, 100)
	c.BetPlaced("30sec", round.KindNumber, 50)
	c.BetRejected("30sec", "duplicate_bet")
	c.RoundCompleted("30sec", 2, 150, 190, 20*time.Millisecond)
	c.SettlementRetry("30sec")
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	assert.InDelta(t, 1, testutil.ToFloat64(c.betsPlaced.WithLabelValues("30sec", "color")), 0)
	assert.InDelta(t, 150, testutil.ToFloat64(c.staked.WithLabelValues("30sec")), 0)
	assert.InDelta(t, 190, testutil.ToFloat64(c.paid.WithLabelValues("30sec")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.betsRejected.WithLabelValues("30sec", "duplicate_bet")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.roundsCompleted.WithLabelValues("30sec")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.settleRetries.WithLabelValues("30sec")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.connections), 0)
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()
	c := New()
	c.BetPlaced("1min", round.KindSize, 10)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wingo_bets_placed_total{kind="size",mode="1min"} 1`)
}
