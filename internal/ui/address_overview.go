package ui

import (
	"fmt"

	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/store"
	"github.com/rivo/tview"
)

var addressHeaders = []string{"Address", "State", "Gen", "Events", "Notified", "Last Event", "Last Error"}

// AddressOverviewView displays every monitored address and its connection state.
type AddressOverviewView struct {
	table *tview.Table
}

// NewAddressOverviewView creates a new address overview view.
func NewAddressOverviewView() *AddressOverviewView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Addresses ").SetBorder(true)
	setHeader(table, addressHeaders)

	return &AddressOverviewView{table: table}
}

// Widget returns the tview primitive.
func (v *AddressOverviewView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the view with new metrics data.
func (v *AddressOverviewView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	setHeader(v.table, addressHeaders)

	for i, a := range snapshot.Addresses {
		row := i + 1

		lastErr := a.State.LastError
		if len(lastErr) > 40 {
			lastErr = lastErr[:37] + "..."
		}

		cells := []string{
			truncateAddress(a.State.Address),
			fmt.Sprintf("[%s]%s[-]", stateColor(a.State.State), a.State.State),
			fmt.Sprintf("%d", a.State.Generation),
			fmt.Sprintf("%d", a.EventCount),
			fmt.Sprintf("%d", a.NotifiedCount),
			formatTimeAgo(a.LastEvent),
			lastErr,
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft).
				SetExpansion(1)
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Addresses (%d/%d connected) ", snapshot.ConnectedCount, len(snapshot.Addresses)))
}

func stateColor(state store.LifecycleState) string {
	switch state {
	case store.StateRunning:
		return "green"
	case store.StateConnecting, store.StateInit:
		return "yellow"
	default:
		return "red"
	}
}

// setHeader writes the header row of a table.
func setHeader(table *tview.Table, headers []string) {
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		table.SetCell(0, col, cell)
	}
}

// truncateAddress truncates a wallet address for display.
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
