// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/hlwatch/engine/internal/metrics"
	"github.com/rivo/tview"
)

// DefaultRefreshRate is how often views are redrawn from the tracker.
const DefaultRefreshRate = 500 * time.Millisecond

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	addresses     *AddressOverviewView
	notifications *NotificationLogView
	liveEvents    *LiveEventsView
	stats         *StatsDashboardView

	tracker     *metrics.MetricsTracker
	refreshRate time.Duration
	onQuit      func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application. onQuit is called when the user
// quits from the keyboard.
func NewApp(tracker *metrics.MetricsTracker, refreshRate time.Duration, onQuit func()) *App {
	if refreshRate <= 0 {
		refreshRate = DefaultRefreshRate
	}
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		app:           tview.NewApplication(),
		addresses:     NewAddressOverviewView(),
		notifications: NewNotificationLogView(),
		liveEvents:    NewLiveEventsView(),
		stats:         NewStatsDashboardView(),
		tracker:       tracker,
		refreshRate:   refreshRate,
		onQuit:        onQuit,
		ctx:           ctx,
		cancel:        cancel,
	}

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the 4-panel layout.
func (a *App) setupLayout() {
	// Top row: Addresses (left) | Notifications (right)
	topRow := tview.NewFlex().
		AddItem(a.addresses.Widget(), 0, 1, false).
		AddItem(a.notifications.Widget(), 0, 1, false)

	// Bottom row: Live Events (left) | Stats (right)
	bottomRow := tview.NewFlex().
		AddItem(a.liveEvents.Widget(), 0, 2, false).
		AddItem(a.stats.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.quit()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.quit()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) quit() {
	a.Stop()
	if a.onQuit != nil {
		a.onQuit()
	}
}

// updateLoop periodically refreshes views with metrics data.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// refresh redraws every view from a fresh snapshot.
func (a *App) refresh() {
	snapshot := a.tracker.Snapshot()

	a.app.QueueUpdateDraw(func() {
		a.update(snapshot)
	})
}

func (a *App) update(snapshot metrics.MetricsSnapshot) {
	a.addresses.Update(snapshot)
	a.notifications.Update(snapshot)
	a.liveEvents.Update(snapshot)
	a.stats.Update(snapshot)
}
