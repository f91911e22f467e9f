package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/store"
	"github.com/rivo/tview"
)

var eventHeaders = []string{"Time", "Address", "Kind", "Coin", "Direction", "Price", "Decision"}

// LiveEventsView displays a scrolling feed of routed events and what the filter made of them.
type LiveEventsView struct {
	table *tview.Table
}

// NewLiveEventsView creates a new live events view.
func NewLiveEventsView() *LiveEventsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Events ").SetBorder(true)
	setHeader(table, eventHeaders)

	return &LiveEventsView{table: table}
}

// Widget returns the tview primitive.
func (v *LiveEventsView) Widget() tview.Primitive {
	return v.table
}

// Update redraws the table from the snapshot's recent events.
func (v *LiveEventsView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	setHeader(v.table, eventHeaders)

	for i, ev := range snapshot.RecentEvents {
		row := i + 1
		trade := ev.Trade

		direction := trade.Direction
		if direction == "" {
			direction = "-"
		}

		cells := []string{
			ev.At.Format("15:04:05"),
			truncateAddress(trade.Address),
			string(trade.Kind),
			trade.Coin,
			direction,
			trade.Price.String(),
			string(ev.Decision),
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft)
			if col == len(cells)-1 {
				cell.SetTextColor(decisionColor(ev.Decision))
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Live Events (%d) ", len(snapshot.RecentEvents)))
}

func decisionColor(d store.Decision) tcell.Color {
	switch d {
	case store.Notify:
		return tcell.ColorGreen
	case store.SuppressRateLimited:
		return tcell.ColorYellow
	default:
		return tcell.ColorGray
	}
}
