package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hlwatch/engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServer starts a websocket server that runs fn for each connection.
func newServer(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	trades []store.Trade
}

func (r *fakeRecorder) Record(_ context.Context, trade store.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

func TestSubscribe_DeliversAndRecords(t *testing.T) {
	requests := make(chan string, 4)
	url := newServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			requests <- string(msg)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(fillFrame))
		drain(conn)
	})

	rec := &fakeRecorder{}
	got := make(chan store.Trade, 4)
	client := NewClient(ClientConfig{URL: url, OrderUpdates: true, KeepAlive: NoKeepAlive{}}, rec, nil)

	sub, err := client.Subscribe(context.Background(), "0xabc", func(tr store.Trade) { got <- tr })
	require.NoError(t, err)

	assert.Contains(t, <-requests, `"type":"userFills"`)
	second := <-requests
	assert.Contains(t, second, `"type":"orderUpdates"`)
	assert.Contains(t, second, `"user":"0xabc"`)
	assert.Contains(t, second, `"method":"subscribe"`)

	for _, want := range []string{"0xdeadbeef", "0xfeed"} {
		select {
		case tr := <-got:
			assert.Equal(t, want, tr.TxHash)
		case <-time.After(2 * time.Second):
			t.Fatalf("trade %s not delivered", want)
		}
	}
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sub.Alive())
	assert.NoError(t, sub.Err())

	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Err(), ErrClosed)
	assert.False(t, sub.Alive())
	assert.NoError(t, sub.Close(), "second close is a no-op")
}

func TestSubscribe_ServerDisconnectTerminates(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	client := NewClient(ClientConfig{URL: url, KeepAlive: NoKeepAlive{}}, nil, nil)
	sub, err := client.Subscribe(context.Background(), "0xabc", nil)
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}
	require.Error(t, sub.Err())
	assert.NotErrorIs(t, sub.Err(), ErrClosed)
	assert.False(t, sub.Alive())
	assert.NoError(t, sub.Close())
}

func TestSubscribe_ErrorFrameTerminates(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"error","data":"Invalid subscription"}`))
		drain(conn)
	})

	client := NewClient(ClientConfig{URL: url, KeepAlive: NoKeepAlive{}}, nil, nil)
	sub, err := client.Subscribe(context.Background(), "bogus", nil)
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}
	var feedErr *FeedError
	assert.ErrorAs(t, sub.Err(), &feedErr)
}

func TestSubscribe_JSONKeepAlive(t *testing.T) {
	pings := make(chan string, 1)
	url := newServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		pings <- string(msg)
		drain(conn)
	})

	client := NewClient(ClientConfig{URL: url, KeepAlive: JSONPing{Every: 20 * time.Millisecond}}, nil, nil)
	sub, err := client.Subscribe(context.Background(), "0xabc", nil)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-pings:
		assert.JSONEq(t, `{"method":"ping"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}

func TestSubscribe_ControlKeepAliveKeepsIdleConnection(t *testing.T) {
	// drain answers control pings with pongs but never sends data frames
	url := newServer(t, drain)

	client := NewClient(ClientConfig{
		URL:         url,
		KeepAlive:   ControlPing{Every: 20 * time.Millisecond},
		ReadTimeout: 150 * time.Millisecond,
	}, nil, nil)
	sub, err := client.Subscribe(context.Background(), "0xabc", nil)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-sub.Done():
		t.Fatalf("idle subscription terminated: %v", sub.Err())
	case <-time.After(500 * time.Millisecond):
	}
	assert.True(t, sub.Alive())
	assert.NoError(t, sub.Err())
}

func TestSubscribe_ContextCancelTerminates(t *testing.T) {
	url := newServer(t, drain)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(ClientConfig{URL: url, KeepAlive: NoKeepAlive{}}, nil, nil)
	sub, err := client.Subscribe(ctx, "0xabc", nil)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}
	assert.ErrorIs(t, sub.Err(), context.Canceled)
}

func TestSubscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := NewClient(ClientConfig{URL: url}, nil, nil)
	_, err := client.Subscribe(context.Background(), "0xabc", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	srv.Close()
	_, err = client.Subscribe(context.Background(), "0xabc", nil)
	assert.Error(t, err)
}
