package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hlwatch/engine/internal/store"
)

const (
	// DefaultURL is the public Hyperliquid websocket endpoint.
	DefaultURL = "wss://api.hyperliquid.xyz/ws"

	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 10 * time.Second
	// ReadTimeout is how long a connection may go without any frame.
	ReadTimeout = 90 * time.Second
)

// ErrClosed is reported by a subscription that was closed by its owner.
var ErrClosed = errors.New("subscription closed")

// Handler receives every trade parsed from a subscription, on the
// subscription's reader goroutine.
type Handler func(store.Trade)

// Subscription is a live feed for one address.
type Subscription interface {
	// Done is closed once the subscription has terminated.
	Done() <-chan struct{}
	// Err reports why the subscription terminated; nil while running.
	Err() error
	// Alive reports whether the connection is open and recently active.
	Alive() bool
	// Close terminates the subscription and releases the connection.
	Close() error
}

// Feed opens subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, address string, handler Handler) (Subscription, error)
}

// Recorder persists trades after they have been handled.
type Recorder interface {
	Record(ctx context.Context, trade store.Trade) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL          string
	OrderUpdates bool
	KeepAlive    KeepAlive
	ReadTimeout  time.Duration
}

// Client dials the Hyperliquid websocket, one connection per address.
type Client struct {
	cfg      ClientConfig
	recorder Recorder
	logger   *slog.Logger
	dialer   websocket.Dialer
}

// NewClient creates a feed client. recorder may be nil.
func NewClient(cfg ClientConfig, recorder Recorder, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.KeepAlive == nil {
		cfg.KeepAlive = JSONPing{Every: DefaultKeepAliveInterval}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = ReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
		dialer:   websocket.Dialer{HandshakeTimeout: HandshakeTimeout},
	}
}

// subscribeRequest is the exchange's subscription message.
type subscribeRequest struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

// Subscribe dials a new connection and subscribes to the address's fills
// and, when enabled, order updates. It returns once the subscription
// requests have been written; delivery happens on a background reader.
func (c *Client) Subscribe(ctx context.Context, address string, handler Handler) (Subscription, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &wsSubscription{
		address:     address,
		conn:        conn,
		handler:     handler,
		recorder:    c.recorder,
		keepAlive:   c.cfg.KeepAlive,
		readTimeout: c.cfg.ReadTimeout,
		logger:      c.logger.With("address", address),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	s.touch()
	// pongs answer ControlPing keep-alives and count as activity
	conn.SetPongHandler(func(string) error {
		s.touch()
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	channels := []string{ChannelUserFills}
	if c.cfg.OrderUpdates {
		channels = append(channels, ChannelOrderUpdates)
	}
	for _, channel := range channels {
		req := subscribeRequest{
			Method:       "subscribe",
			Subscription: map[string]string{"type": channel, "user": address},
		}
		if err := s.WriteJSON(req); err != nil {
			cancel()
			conn.Close()
			return nil, fmt.Errorf("subscribe %s failed: %w", channel, err)
		}
	}

	s.logger.Info("ws_subscribed", "endpoint", c.cfg.URL, "channels", strings.Join(channels, ","))

	s.wg.Add(1)
	go s.readLoop(runCtx)

	if s.keepAlive.Interval() > 0 {
		s.wg.Add(1)
		go s.keepAliveLoop(runCtx)
	}

	go func() {
		select {
		case <-runCtx.Done():
			s.terminate(context.Cause(runCtx))
		case <-s.done:
		}
	}()

	return s, nil
}

// wsSubscription is a Subscription backed by a gorilla websocket connection.
type wsSubscription struct {
	address     string
	conn        *websocket.Conn
	handler     Handler
	recorder    Recorder
	keepAlive   KeepAlive
	readTimeout time.Duration
	logger      *slog.Logger

	writeMu sync.Mutex
	lastMsg atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (s *wsSubscription) Done() <-chan struct{} { return s.done }

func (s *wsSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsSubscription) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	last := time.Unix(0, s.lastMsg.Load())
	return time.Since(last) < s.readTimeout
}

// Close terminates the subscription and waits for its goroutines. It must not
// be called from the Handler.
func (s *wsSubscription) Close() error {
	var closeErr error
	select {
	case <-s.done:
	default:
		closeErr = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}

	s.terminate(ErrClosed)
	s.wg.Wait()

	if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("close handshake: %w", closeErr)
	}
	return nil
}

// WriteJSON sends v as a text frame. Implements Pinger.
func (s *wsSubscription) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// WritePing sends a protocol ping frame. Implements Pinger.
func (s *wsSubscription) WritePing() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout))
}

// terminate records the first terminal error and tears down the connection.
func (s *wsSubscription) terminate(err error) {
	s.stopOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		close(s.done)
		s.cancel()
		s.conn.Close()

		if errors.Is(err, ErrClosed) {
			s.logger.Info("ws_disconnected")
		} else {
			s.logger.Warn("ws_disconnected", "error", err)
		}
	})
}

// readLoop reads frames until the connection fails or is closed.
func (s *wsSubscription) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.terminate(fmt.Errorf("set read deadline: %w", err))
			return
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.terminate(fmt.Errorf("read error: %w", err))
			return
		}
		s.touch()

		if err := s.handleMessage(ctx, message); err != nil {
			s.terminate(err)
			return
		}
	}
}

// handleMessage parses a frame and dispatches its trades. Only exchange error
// frames are fatal; malformed frames are logged and skipped.
func (s *wsSubscription) handleMessage(ctx context.Context, data []byte) error {
	trades, channel, err := ParseMessage(s.address, data)
	if err != nil {
		var feedErr *FeedError
		if errors.As(err, &feedErr) {
			return feedErr
		}
		s.logger.Debug("ws_parse_error", "error", err, "raw", truncate(string(data), 256))
		return nil
	}

	if len(trades) == 0 {
		if channel != "" {
			s.logger.Debug("ws_message", "channel", channel)
		}
		return nil
	}

	for _, trade := range trades {
		s.logger.Debug("trade_received",
			"tx_hash", trade.TxHash,
			"kind", trade.Kind,
			"coin", trade.Coin,
			"price", trade.Price,
			"snapshot", trade.Snapshot,
		)
		if s.handler != nil {
			s.handler(trade)
		}
		if s.recorder != nil {
			if err := s.recorder.Record(ctx, trade); err != nil {
				s.logger.Warn("trade_record_failed", "tx_hash", trade.TxHash, "error", err)
			}
		}
	}
	return nil
}

// keepAliveLoop pings on the strategy's interval.
func (s *wsSubscription) keepAliveLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepAlive.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.keepAlive.Ping(s); err != nil {
				s.terminate(fmt.Errorf("keep-alive failed: %w", err))
				return
			}
			s.logger.Debug("ws_ping_sent")
		}
	}
}

func (s *wsSubscription) touch() {
	s.lastMsg.Store(time.Now().UnixNano())
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
