package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestTruncateAddress(t *testing.T) {
	assert.Equal(t, "0xabc", truncateAddress("0xabc"))
	assert.Equal(t, "0x1234...cdef", truncateAddress("0x1234567890abcdef"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "12m", formatDuration(12*time.Minute))
	assert.Equal(t, "3h 5m", formatDuration(3*time.Hour+5*time.Minute))
}

func TestFormatAlert(t *testing.T) {
	mainText, secondary := formatAlert(store.Alert{
		Address: "0x1234567890abcdef",
		TxHash:  "0xfeedfacecafebeef",
		Kind:    store.KindFill,
		Coin:    "ETH",
		SentAt:  time.Date(2025, 1, 4, 14, 32, 1, 0, time.UTC),
		Error:   "webhook returned status 429",
	})
	assert.Equal(t, "14:32:01 ❌ FILL ETH", mainText)
	assert.True(t, strings.HasSuffix(secondary, "webhook returned status 429"))
}

func TestViews_UpdateFromSnapshot(t *testing.T) {
	tracker := metrics.NewMetricsTracker()
	tracker.StateChanged(store.AddressState{Address: "0xabc", State: store.StateRunning, Generation: 1})
	tracker.TradeRouted(store.Trade{Address: "0xabc", Coin: "BTC", Kind: store.KindFill}, store.Notify)
	tracker.AlertSent(store.Alert{Address: "0xabc", Coin: "BTC", Kind: store.KindFill, Success: true})
	snap := tracker.Snapshot()

	addresses := NewAddressOverviewView()
	addresses.Update(snap)
	assert.Equal(t, 2, addresses.table.GetRowCount())

	events := NewLiveEventsView()
	events.Update(snap)
	assert.Equal(t, "NOTIFY", events.table.GetCell(1, 6).Text)

	alerts := NewNotificationLogView()
	alerts.Update(snap)
	assert.Equal(t, 1, alerts.list.GetItemCount())
}
