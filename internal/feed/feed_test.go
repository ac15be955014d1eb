package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/platform/arkham"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "attempt %d", i)
	}

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, DefaultBackoffBase, b.Next())
	for i := 0; i < 100; i++ {
		b.Next()
	}
	assert.Equal(t, DefaultBackoffMax, b.Next(), "no overflow after many attempts")
}

// fakeStream replays scripted frames, then fails with io.EOF or blocks until
// closed when block is set.
type fakeStream struct {
	mu       sync.Mutex
	frames   []string
	subErr   error
	block    bool
	closed   chan struct{}
	closeOne sync.Once
	subs     []arkham.SubscribeRequest
}

func newFakeStream(frames ...string) *fakeStream {
	return &fakeStream{frames: frames, closed: make(chan struct{})}
}

func (s *fakeStream) Subscribe(req arkham.SubscribeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, req)
	return s.subErr
}

func (s *fakeStream) ReadMessage() ([]byte, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return []byte(f), nil
	}
	block := s.block
	s.mu.Unlock()
	if block {
		<-s.closed
		return nil, errors.New("use of closed connection")
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.closeOne.Do(func() { close(s.closed) })
	return nil
}

// scriptedDialer hands out one result per attempt; the last entry repeats.
type scriptedDialer struct {
	mu      sync.Mutex
	results []any // Stream or error
	calls   int
}

func (d *scriptedDialer) dial(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	d.calls++
	switch r := d.results[i].(type) {
	case Stream:
		return r, nil
	case error:
		return nil, r
	}
	panic("bad script")
}

type recordingBook struct {
	mu        sync.Mutex
	snapshots [][2][]domain.PriceLevel
	deltas    [][]domain.LevelUpdate
}

func (b *recordingBook) ApplySnapshot(bids, asks []domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, [2][]domain.PriceLevel{bids, asks})
}

func (b *recordingBook) ApplyDelta(u []domain.LevelUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deltas = append(b.deltas, u)
}

type transitions struct {
	mu  sync.Mutex
	log []State
}

func (tr *transitions) observe(_, to State, _ error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.log = append(tr.log, to)
}

func (tr *transitions) states() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.log...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{Symbol: "BTC_USDT_PERP", Group: "0.01", BackoffBase: time.Second, BackoffMax: 60 * time.Second}
}

func TestConnectorRoutesMessages(t *testing.T) {
	stream := newFakeStream(
		`{"channel":"l2_updates","type":"snapshot","data":{"bids":[["100","1"]],"asks":[["101","1"]]}}`,
		`{"channel":"l2_updates","type":"update","data":{"price":"100","size":"0","side":"buy"}}`,
		`{"channel":"l2_updates","type":"update","data":null}`,
		`{"channel":"trades","data":{"price":"1"}}`,
		`not json`,
		`{"channel":"l2_updates","type":"update","data":[{"price":"99","size":"2","side":"buy"}]}`,
	)
	dialer := &scriptedDialer{results: []any{stream}}
	book := &recordingBook{}
	tr := &transitions{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	c := NewConnector(testConfig(), dialer.dial, book, quietLogger(), WithObserver(tr.observe), WithSleeper(sleeper))
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, book.snapshots, 1)
	assert.Len(t, book.snapshots[0][0], 1)
	assert.Len(t, book.snapshots[0][1], 1)
	require.Len(t, book.deltas, 2)
	assert.Equal(t, domain.SideBuy, book.deltas[0][0].Side)
	assert.Equal(t, "99", book.deltas[1][0].Price.String())

	require.Len(t, stream.subs, 1)
	assert.Equal(t, "BTC_USDT_PERP", stream.subs[0].Args.Params.Symbol)
	assert.True(t, stream.subs[0].Args.Params.Snapshot)

	assert.Equal(t, []State{StateConnecting, StateSubscribed, StateStreaming, StateDisconnected}, tr.states())
}

func TestConnectorBackoffResetsOnSubscribe(t *testing.T) {
	dialErr := errors.New("connection refused")
	subFail := newFakeStream()
	subFail.subErr = errors.New("write: broken pipe")
	resumed := newFakeStream()
	dialer := &scriptedDialer{results: []any{dialErr, subFail, resumed, dialErr}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 4 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	c := NewConnector(testConfig(), dialer.dial, &recordingBook{}, quietLogger(), WithSleeper(sleeper))
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// dial error, subscribe error, stream end (fixed delay), dial error after reset.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, time.Second}, delays)
	assert.Equal(t, 4, dialer.calls)
	assert.Equal(t, StateDisconnected, c.State())

	// Every new connection subscribes again.
	require.Len(t, subFail.subs, 1)
	require.Len(t, resumed.subs, 1)
	assert.True(t, resumed.subs[0].Args.Params.Snapshot)
}

func TestConnectorAuthFailureIsTerminal(t *testing.T) {
	authErr := &arkham.HandshakeError{StatusCode: http.StatusForbidden, Err: websocket.ErrBadHandshake}
	dialer := &scriptedDialer{results: []any{authErr}}
	tr := &transitions{}
	sleeps := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	c := NewConnector(testConfig(), dialer.dial, &recordingBook{}, quietLogger(), WithObserver(tr.observe), WithSleeper(sleeper))
	err := c.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, dialer.calls, "no reconnect after auth rejection")
	assert.Zero(t, sleeps)
	assert.Equal(t, StateFailed, c.State())

	failed := 0
	for _, s := range tr.states() {
		if s == StateFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestConnectorAuthFailureOverRealHandshake(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dial := func(ctx context.Context) (Stream, error) {
		return arkham.Dial(ctx, arkham.DialConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	}
	c := NewConnector(testConfig(), dial, &recordingBook{}, quietLogger())

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, StateFailed, c.State())
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()
}

func TestConnectorCancelUnblocksRead(t *testing.T) {
	stream := newFakeStream()
	stream.block = true
	dialer := &scriptedDialer{results: []any{stream}}

	subscribed := make(chan struct{})
	var once sync.Once
	observer := func(_, to State, _ error) {
		if to == StateSubscribed {
			once.Do(func() { close(subscribed) })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConnector(testConfig(), dialer.dial, &recordingBook{}, quietLogger(), WithObserver(observer))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	<-subscribed
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
