package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/config"
	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVenue serves the websocket feed and the order endpoint.
type fakeVenue struct {
	ws     *httptest.Server
	orders *httptest.Server

	orderCount atomic.Int32
	mu         sync.Mutex
	signed     []string
}

func newFakeVenue(t *testing.T, wsStatus int, snapshot string) *fakeVenue {
	t.Helper()
	v := &fakeVenue{}
	upgrader := websocket.Upgrader{}

	v.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wsStatus != 0 {
			w.WriteHeader(wsStatus)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(snapshot))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(v.ws.Close)

	v.orders = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.orderCount.Add(1)
		v.mu.Lock()
		v.signed = append(v.signed, r.URL.Path+"|"+r.Header.Get("Arkham-API-Key"))
		v.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"orderId":1}`))
	}))
	t.Cleanup(v.orders.Close)
	return v
}

func testConfig(v *fakeVenue) *config.Config {
	cfg := config.Defaults()
	cfg.Venue.APIKey = "test-key"
	cfg.Venue.APISecret = "c2VjcmV0"
	cfg.Venue.BaseURL = v.orders.URL
	cfg.Venue.WSURL = "ws" + strings.TrimPrefix(v.ws.URL, "http")
	cfg.Trading.MinDwell.Duration = 10 * time.Millisecond
	cfg.Trading.PollInterval.Duration = 5 * time.Millisecond
	cfg.Trading.FixedLegSize = "1"
	cfg.Trading.TargetUSD = "200"
	cfg.Trading.ReferencePrice = "100"
	cfg.Feed.BackoffBase.Duration = 10 * time.Millisecond
	cfg.Feed.BackoffMax.Duration = 20 * time.Millisecond
	cfg.Feed.ReconnectDelay.Duration = 10 * time.Millisecond
	return &cfg
}

type exitRecorder struct {
	calls atomic.Int32
	code  atomic.Int32
}

func (e *exitRecorder) exit(code int) {
	e.calls.Add(1)
	e.code.Store(int32(code))
}

const tightBook = `{"channel":"l2_updates","type":"snapshot","data":{"bids":[["100","1"]],"asks":[["100.005","1"]]}}`

func TestRunStopsAtTarget(t *testing.T) {
	v := newFakeVenue(t, 0, tightBook)
	rec := &exitRecorder{}
	a := New(testConfig(v), discardLogger(), WithExit(rec.exit))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Run(ctx))
	assert.Equal(t, int32(1), rec.calls.Load(), "exit hook runs exactly once")
	assert.Equal(t, int32(0), rec.code.Load())
	assert.Equal(t, int32(2), v.orderCount.Load(), "one buy and one sell")

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.signed {
		assert.Equal(t, "/orders/new|test-key", s)
	}
}

func TestRunWideSpreadNeverTrades(t *testing.T) {
	wide := `{"channel":"l2_updates","type":"snapshot","data":{"bids":[["100","1"]],"asks":[["101","1"]]}}`
	v := newFakeVenue(t, 0, wide)
	rec := &exitRecorder{}
	a := New(testConfig(v), discardLogger(), WithExit(rec.exit))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, rec.calls.Load())
	assert.Zero(t, v.orderCount.Load())
}

func TestRunAuthRejectionIsTerminal(t *testing.T) {
	v := newFakeVenue(t, http.StatusForbidden, "")
	rec := &exitRecorder{}
	a := New(testConfig(v), discardLogger(), WithExit(rec.exit))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Equal(t, int32(0), rec.code.Load())
	assert.Zero(t, v.orderCount.Load())
}

func TestWireRequiresSecret(t *testing.T) {
	cfg := config.Defaults()
	cfg.Venue.APIKey = "key"

	_, _, err := Wire(context.Background(), &cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: api secret")
}

func TestWireWithoutIntegrations(t *testing.T) {
	cfg := config.Defaults()
	cfg.Venue.APIKey = "key"
	cfg.Venue.APISecret = "c2VjcmV0"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Auth)
	assert.NotNil(t, deps.Orders)
	assert.Nil(t, deps.QuoteCache)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.TradeStore)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Checks)
	assert.False(t, deps.Notifier.Enabled())
}

type lostLease struct {
	refreshes atomic.Int32
}

func (l *lostLease) Refresh(context.Context) error {
	if l.refreshes.Add(1) >= 2 {
		return domain.ErrLockLost
	}
	return nil
}

func (l *lostLease) Release() {}

func TestKeepLeaseStopsWhenLost(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.LockTTL.Duration = 30 * time.Millisecond
	a := New(&cfg, discardLogger())
	deps := &Dependencies{Notifier: notify.NewNotifier(nil, nil, discardLogger())}
	lease := &lostLease{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.keepLease(ctx, deps, lease)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockLost)
	assert.Equal(t, int32(2), lease.refreshes.Load())
}

func TestTradingConfigParsesDecimals(t *testing.T) {
	cfg := config.Defaults()
	tc := tradingConfig(&cfg, "sess")
	assert.Equal(t, "0.0111", tc.SpreadThreshold.String())
	assert.Equal(t, "0.00371", tc.FixedLegSize.String())
	assert.Equal(t, "sess", tc.SessionID)
	assert.Equal(t, 510*time.Millisecond, tc.MinDwell)
}

func TestLockKeyAndDetail(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.Subaccount = 2
	assert.Equal(t, "volumebot:BTC_USDT_PERP:2", lockKey(&cfg))
	assert.Equal(t, "a=1\nb=x", formatDetail(map[string]any{"b": "x", "a": 1}))
}
