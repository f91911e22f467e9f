package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/store"
	"github.com/rivo/tview"
)

// NotificationLogView displays webhook deliveries.
type NotificationLogView struct {
	list *tview.List
}

// NewNotificationLogView creates a new notification log view.
func NewNotificationLogView() *NotificationLogView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" 🔔 Notifications ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	return &NotificationLogView{list: list}
}

// Widget returns the tview primitive.
func (v *NotificationLogView) Widget() tview.Primitive {
	return v.list
}

// Update rebuilds the list from the snapshot's recent alerts.
func (v *NotificationLogView) Update(snapshot metrics.MetricsSnapshot) {
	v.list.Clear()

	if len(snapshot.RecentAlerts) == 0 {
		v.list.AddItem("No notifications sent yet", "", 0, nil)
		return
	}

	for _, alert := range snapshot.RecentAlerts {
		mainText, secondaryText := formatAlert(alert)
		v.list.AddItem(mainText, secondaryText, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" 🔔 Notifications (%d sent, %d failed) ",
		snapshot.NotificationsSent, snapshot.NotificationErrors))
}

// formatAlert formats an alert for display.
func formatAlert(alert store.Alert) (string, string) {
	icon := "✅"
	if !alert.Success {
		icon = "❌"
	}

	mainText := fmt.Sprintf("%s %s %s %s", alert.SentAt.Format("15:04:05"), icon, alert.Kind, alert.Coin)

	secondaryText := fmt.Sprintf("%s | tx %s", truncateAddress(alert.Address), truncateAddress(alert.TxHash))
	if alert.Error != "" {
		secondaryText += " | " + alert.Error
	}
	return mainText, secondaryText
}
