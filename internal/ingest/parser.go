// Package ingest handles the Hyperliquid websocket feed and message parsing.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hlwatch/engine/internal/store"
	"github.com/shopspring/decimal"
)

// Channels sent by the Hyperliquid websocket.
const (
	ChannelUserFills    = "userFills"
	ChannelOrderUpdates = "orderUpdates"
	ChannelPong         = "pong"
	ChannelSubResponse  = "subscriptionResponse"
	ChannelError        = "error"
)

// WSMessage represents the envelope of every websocket frame.
type WSMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// UserFillsData is the payload of a userFills frame.
type UserFillsData struct {
	User       string     `json:"user"`
	IsSnapshot bool       `json:"isSnapshot"`
	Fills      []FillData `json:"fills"`
}

// FillData is a single execution as reported by the exchange.
type FillData struct {
	Coin          string `json:"coin"`
	Px            string `json:"px"`
	Sz            string `json:"sz"`
	Side          string `json:"side"` // B or A
	Time          int64  `json:"time"` // Unix ms
	StartPosition string `json:"startPosition"`
	Dir           string `json:"dir"`
	ClosedPnl     string `json:"closedPnl"`
	Hash          string `json:"hash"`
	Oid           int64  `json:"oid"`
	Crossed       bool   `json:"crossed"`
	Fee           string `json:"fee"`
	Tid           int64  `json:"tid"`
}

// OrderUpdate is one entry of an orderUpdates frame.
type OrderUpdate struct {
	Order struct {
		Coin      string `json:"coin"`
		Side      string `json:"side"`
		LimitPx   string `json:"limitPx"`
		Sz        string `json:"sz"`
		Oid       int64  `json:"oid"`
		Timestamp int64  `json:"timestamp"`
		OrigSz    string `json:"origSz"`
	} `json:"order"`
	Status          string `json:"status"`
	StatusTimestamp int64  `json:"statusTimestamp"`
}

// ParseMessage parses a raw frame received on address's connection and returns
// any trades it carries along with the frame's channel.
func ParseMessage(address string, data []byte) ([]store.Trade, string, error) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.Channel {
	case ChannelUserFills:
		trades, err := parseUserFills(address, msg.Data)
		return trades, msg.Channel, err
	case ChannelOrderUpdates:
		trades, err := parseOrderUpdates(address, msg.Data)
		return trades, msg.Channel, err
	case ChannelError:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			text = string(msg.Data)
		}
		return nil, msg.Channel, &FeedError{Message: text}
	default:
		return nil, msg.Channel, nil
	}
}

// FeedError is an error frame sent by the exchange.
type FeedError struct {
	Message string
}

func (e *FeedError) Error() string {
	return "feed error: " + e.Message
}

// parseUserFills converts a userFills payload to trades.
func parseUserFills(address string, data json.RawMessage) ([]store.Trade, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var payload UserFillsData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse userFills: %w", err)
	}

	trades := make([]store.Trade, 0, len(payload.Fills))
	for _, fd := range payload.Fills {
		if fd.Hash == "" {
			continue
		}
		trade := store.Trade{
			Address:   address,
			TxHash:    fd.Hash,
			Coin:      fd.Coin,
			Price:     parseDecimal(fd.Px),
			Size:      parseDecimal(fd.Sz),
			Direction: coalesce(fd.Dir, sideName(fd.Side)),
			Kind:      store.KindFill,
			Timestamp: parseMillis(fd.Time),
			Snapshot:  payload.IsSnapshot,
		}
		if fd.ClosedPnl != "" {
			pnl := parseDecimal(fd.ClosedPnl)
			trade.ClosedPnL = &pnl
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// parseOrderUpdates converts order status changes to trades. Order events have
// no transaction hash of their own, so one is derived from the order id and status.
func parseOrderUpdates(address string, data json.RawMessage) ([]store.Trade, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var updates []OrderUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse orderUpdates: %w", err)
	}

	trades := make([]store.Trade, 0, len(updates))
	for _, u := range updates {
		trades = append(trades, store.Trade{
			Address:   address,
			TxHash:    fmt.Sprintf("order:%d:%s", u.Order.Oid, u.Status),
			Coin:      u.Order.Coin,
			Price:     parseDecimal(u.Order.LimitPx),
			Size:      parseDecimal(coalesce(u.Order.Sz, u.Order.OrigSz)),
			Direction: sideName(u.Order.Side),
			Kind:      orderKind(u.Status),
			Timestamp: parseMillis(coalesce64(u.StatusTimestamp, u.Order.Timestamp)),
		})
	}
	return trades, nil
}

// orderKind maps an order status to a trade kind.
func orderKind(status string) store.TradeKind {
	switch strings.ToLower(status) {
	case "open":
		return store.KindOrderPlaced
	case "filled":
		return store.KindOrderFilled
	case "canceled", "cancelled", "margincanceled":
		return store.KindOrderCancelled
	default:
		return store.KindOrderOther
	}
}

// sideName maps the exchange's B/A side codes to words.
func sideName(side string) string {
	switch strings.ToUpper(side) {
	case "B":
		return "Buy"
	case "A":
		return "Sell"
	default:
		return side
	}
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesce64(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// parseDecimal parses an exchange decimal string, returning zero on error.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseMillis converts a Unix millisecond timestamp, falling back to now.
func parseMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
