// Package notify renders trades into chat messages and posts them to a webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hlwatch/engine/internal/store"
)

const (
	// DefaultUsername is the bot name shown in the channel
	DefaultUsername = "Hyperliquid Trade Monitor"
	// DefaultExplorerURL is the base for address and transaction links
	DefaultExplorerURL = "https://hypurrscan.io"
	// DefaultTimeout bounds a single webhook call
	DefaultTimeout = 10 * time.Second
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

// DiscordConfig configures a Discord sink.
type DiscordConfig struct {
	WebhookURL  string
	Username    string
	ExplorerURL string
	Timeout     time.Duration
}

// Discord delivers trades to a Discord-compatible webhook. Delivery is best
// effort: no retries, no queue.
type Discord struct {
	cfg    DiscordConfig
	client *resty.Client
	logger *slog.Logger
}

// NewDiscord creates a Discord sink.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) *Discord {
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.ExplorerURL == "" {
		cfg.ExplorerURL = DefaultExplorerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &Discord{cfg: cfg, client: client, logger: logger}
}

// Deliver renders trade and posts it. The returned error is for the caller's
// bookkeeping only; the failure has already been logged.
func (d *Discord) Deliver(ctx context.Context, trade store.Trade) error {
	payload := Payload{
		Content:  Render(trade, d.cfg.ExplorerURL),
		Username: d.cfg.Username,
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(d.cfg.WebhookURL)
	if err != nil {
		d.logger.Error("webhook_send_failed",
			"address", trade.Address,
			"tx_hash", trade.TxHash,
			"error", err,
		)
		return fmt.Errorf("post webhook: %w", err)
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(resp.String())
		d.logger.Error("webhook_rejected",
			"address", trade.Address,
			"tx_hash", trade.TxHash,
			"status", resp.StatusCode(),
			"body", truncate(body, 200),
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	d.logger.Debug("webhook_sent", "address", trade.Address, "tx_hash", trade.TxHash)
	return nil
}

// Render formats a trade as a chat message.
func Render(trade store.Trade, explorerURL string) string {
	explorerURL = strings.TrimSuffix(explorerURL, "/")

	var b strings.Builder
	fmt.Fprintf(&b, "**[%s] New %s**\n", trade.Timestamp.Format("2006-01-02 15:04:05"), trade.Kind)
	fmt.Fprintf(&b, "Address: %s/address/%s\n", explorerURL, trade.Address)
	fmt.Fprintf(&b, "Trade Tx hash: %s/tx/%s\n", explorerURL, trade.TxHash)
	b.WriteString("```\n")
	fmt.Fprintf(&b, "Coin: %s\n", trade.Coin)
	fmt.Fprintf(&b, "Price: %s", trade.Price.String())

	if trade.IsFill() {
		fmt.Fprintf(&b, "\nDirection: %s", trade.Direction)
	}

	if trade.ClosedPnL != nil && !trade.ClosedPnL.IsZero() {
		marker := "🔴"
		if trade.ClosedPnL.IsPositive() {
			marker = "🟢"
		}
		fmt.Fprintf(&b, "\nPnL: %s %s", marker, trade.ClosedPnL.StringFixed(2))
	}

	fmt.Fprintf(&b, "\nHash: %s\n```", trade.TxHash)
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
