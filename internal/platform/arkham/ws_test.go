package arkham

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDialClassifiesAuthRejection(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := Dial(context.Background(), DialConfig{URL: wsURL(srv.URL)})
		srv.Close()

		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrUnauthorized), "status %d", status)
		var herr *HandshakeError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, status, herr.StatusCode)
	}
}

func TestDialOtherFailuresAreNotAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), DialConfig{URL: wsURL(srv.URL)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrUnauthorized))
}

func TestSessionSubscribeAndRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotSub := make(chan SubscribeRequest, 1)
	gotKey := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.Header.Get("Arkham-API-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req SubscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		gotSub <- req
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"l2_updates","type":"snapshot","data":{}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Arkham-API-Key", "key")
	s, err := Dial(context.Background(), DialConfig{URL: wsURL(srv.URL), Header: header})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "key", <-gotKey)
	require.NoError(t, s.Subscribe(NewL2Subscribe("BTC_USDT_PERP", "0.01", "abc123")))
	sub := <-gotSub
	assert.Equal(t, ChannelL2Updates, sub.Args.Channel)
	assert.Equal(t, "BTC_USDT_PERP", sub.Args.Params.Symbol)

	msg, err := s.ReadMessage()
	require.NoError(t, err, "binary frames are skipped")
	assert.Contains(t, string(msg), `"snapshot"`)

	_, err = s.ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWSDisconnect))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "close is idempotent")
}
