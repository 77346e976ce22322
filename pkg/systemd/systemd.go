// Package systemd speaks the sd_notify protocol: readiness, stopping, status
// and watchdog keepalives. Outside a systemd unit every call is a no-op.
package systemd

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states. The zero value is not usable; use New.
type Notifier struct {
	send func(state string) (bool, error)

	mu       sync.Mutex
	interval time.Duration // watchdog ping spacing; 0 disables pings
	last     time.Time
}

// New returns a Notifier bound to $NOTIFY_SOCKET and $WATCHDOG_USEC.
func New() *Notifier {
	n := &Notifier{send: func(state string) (bool, error) { return daemon.SdNotify(false, state) }}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		// Ping at half the deadline, as sd_watchdog_enabled(3) recommends.
		n.interval = d / 2
	}
	return n
}

// Ready reports READY=1. sent is false when not running under systemd.
func (n *Notifier) Ready() (sent bool, err error) { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() (bool, error) { return n.send(daemon.SdNotifyReloading) }

func (n *Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// WatchdogInterval is the ping spacing, or 0 when the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interval
}

// Ping sends WATCHDOG=1 at most once per interval. It is meant to be called
// from a loop that proves liveness, such as the alarm poll tick.
func (n *Notifier) Ping(now time.Time) {
	n.mu.Lock()
	if n.interval <= 0 || now.Sub(n.last) < n.interval {
		n.mu.Unlock()
		return
	}
	n.last = now
	n.mu.Unlock()
	_, _ = n.send(daemon.SdNotifyWatchdog)
}
