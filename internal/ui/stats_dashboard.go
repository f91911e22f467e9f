package ui

import (
	"fmt"
	"time"

	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/store"
	"github.com/rivo/tview"
)

// StatsDashboardView displays system health and filter counters.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Stats Dashboard ").SetBorder(true)

	return &StatsDashboardView{textView: textView}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.MetricsSnapshot) {
	v.textView.Clear()

	connColor := "red"
	if snapshot.ConnectedCount == len(snapshot.Addresses) && snapshot.ConnectedCount > 0 {
		connColor = "green"
	} else if snapshot.ConnectedCount > 0 {
		connColor = "yellow"
	}

	text := fmt.Sprintf(`[yellow]System Status[-]
Uptime: %s
Connected: [%s]%d/%d[-]
Last Event: %s

[yellow]Event Stats[-]
Total Events: %d
Rate: %.2f events/sec

[yellow]Filter Decisions[-]
Notify: %d
Duplicate: %d
Grace Period: %d
Recorded: %d
Rate Limited: %d

[yellow]Delivery[-]
Sent: %d
Failed: %d
`,
		formatDuration(snapshot.Uptime),
		connColor, snapshot.ConnectedCount, len(snapshot.Addresses),
		formatTimeAgo(snapshot.LastEvent),
		snapshot.EventsTotal,
		snapshot.EventRate,
		snapshot.DecisionCounts[store.Notify],
		snapshot.DecisionCounts[store.SuppressDuplicate],
		snapshot.DecisionCounts[store.SuppressGrace],
		snapshot.DecisionCounts[store.SuppressRecorded],
		snapshot.DecisionCounts[store.SuppressRateLimited],
		snapshot.NotificationsSent,
		snapshot.NotificationErrors,
	)

	fmt.Fprint(v.textView, text)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo formats a time as "X ago".
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := time.Since(t)

	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
