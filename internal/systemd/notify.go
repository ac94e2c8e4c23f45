// Package systemd reports service lifecycle to the service manager over the
// sd_notify socket. Every call is a no-op when NOTIFY_SOCKET is unset.
package systemd

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger *slog.Logger
	send   func(state string) (bool, error)
}

// NewNotifier creates a notifier writing to the socket named by NOTIFY_SOCKET.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		logger: logger,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (n *Notifier) notify(state string) {
	sent, err := n.send(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready marks startup as complete.
func (n *Notifier) Ready() {
	n.notify(daemon.SdNotifyReady)
}

// Stopping marks the start of shutdown.
func (n *Notifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) {
	n.notify("STATUS=" + status)
}

// RunWatchdog pings the watchdog at half the configured interval until ctx
// is done. It returns immediately when the unit has no WatchdogSec.
func (n *Notifier) RunWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Warn("Failed to read watchdog settings", "error", err)
		return
	}
	if interval <= 0 {
		return
	}
	n.runWatchdog(ctx, interval/2)
}

func (n *Notifier) runWatchdog(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
