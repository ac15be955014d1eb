package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/server/handler"
)

type fakeStatus struct {
	quote domain.Quote
}

func (f fakeStatus) FeedState() string { return "streaming" }
func (f fakeStatus) Quote() domain.Quote { return f.quote }
func (f fakeStatus) Depth() (int, int) { return 12, 9 }
func (f fakeStatus) Progress() domain.Progress {
	return domain.Progress{
		BaseVolume:  decimal.RequireFromString("0.00742"),
		QuoteVolume: decimal.RequireFromString("742.0000371"),
		Target:      decimal.RequireFromString("4.8095238"),
		Trades:      1,
		LastTradeAt: time.Unix(1_700_000_000, 0),
	}
}

type fakeTrades struct {
	gotSession string
	gotOpts    domain.ListOpts
	err        error
}

func (f *fakeTrades) Insert(context.Context, domain.PairedTrade) error { return nil }

func (f *fakeTrades) ListBySession(_ context.Context, s string, o domain.ListOpts) ([]domain.PairedTrade, error) {
	f.gotSession, f.gotOpts = s, o
	if f.err != nil {
		return nil, f.err
	}
	return []domain.PairedTrade{{ID: "t1", Size: decimal.RequireFromString("0.00371")}}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(apiKey string, checks map[string]handler.Check, trades domain.TradeStore) *httptest.Server {
	q := domain.Quote{
		BestBid: domain.PriceLevel{Price: decimal.RequireFromString("100000"), Size: decimal.NewFromInt(1)},
		BestAsk: domain.PriceLevel{Price: decimal.RequireFromString("100000.01"), Size: decimal.NewFromInt(2)},
		Spread:  decimal.RequireFromString("0.01"),
		OK:      true,
	}
	h := Handlers{
		Health: handler.NewHealthHandler(checks),
		Status: handler.NewStatusHandler("BTC_USDT_PERP", "sess", time.Now(), fakeStatus{quote: q}),
	}
	if trades != nil {
		h.Trades = handler.NewTradesHandler(trades, "sess", quietLogger())
	}
	srv := NewServer(Config{Addr: ":0", APIKey: apiKey}, h, quietLogger())
	return httptest.NewServer(srv.Handler())
}

func getJSON(t *testing.T, url string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer("", map[string]handler.Check{
		"redis": func(context.Context) error { return nil },
	}, nil)
	defer ts.Close()

	code, body := getJSON(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok"}, body["dependencies"])
}

func TestHealthDegraded(t *testing.T) {
	ts := newTestServer("", map[string]handler.Check{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, nil)
	defer ts.Close()

	code, body := getJSON(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestStatus(t *testing.T) {
	ts := newTestServer("", nil, nil)
	defer ts.Close()

	code, body := getJSON(t, ts.URL+"/api/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "streaming", body["feed_state"])
	assert.Equal(t, "BTC_USDT_PERP", body["symbol"])

	quote := body["quote"].(map[string]any)
	assert.Equal(t, "0.01", quote["spread"])
	assert.Equal(t, map[string]any{"bids": float64(12), "asks": float64(9)}, body["depth"])

	progress := body["progress"].(map[string]any)
	assert.Equal(t, "0.00742", progress["base_volume"])
	assert.Equal(t, "742.00", progress["quote_volume"])
	assert.Equal(t, false, progress["reached"])
	assert.NotEmpty(t, progress["last_trade_at"])
}

func TestStatusRequiresKeyButHealthDoesNot(t *testing.T) {
	ts := newTestServer("secret", nil, nil)
	defer ts.Close()

	code, _ := getJSON(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, ts.URL+"/api/status", http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = getJSON(t, ts.URL+"/api/status", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = getJSON(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTrades(t *testing.T) {
	store := &fakeTrades{}
	ts := newTestServer("", nil, store)
	defer ts.Close()

	code, body := getJSON(t, ts.URL+"/api/trades?limit=1000&offset=3", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sess", store.gotSession)
	assert.Equal(t, 500, store.gotOpts.Limit)
	assert.Equal(t, 3, store.gotOpts.Offset)
	assert.Len(t, body["trades"], 1)

	store.err = errors.New("db down")
	code, _ = getJSON(t, ts.URL+"/api/trades?session=other", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "other", store.gotSession)
}

func TestTradesRouteAbsentWithoutJournal(t *testing.T) {
	ts := newTestServer("", nil, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/trades")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
