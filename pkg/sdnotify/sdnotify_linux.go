//go:build linux

package sdnotify

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells the service manager startup is complete. It reports whether
// the notification was delivered.
func Ready() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// Stopping tells the service manager shutdown has begun.
func Stopping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return ok
}

// Kick strobes the watchdog.
func Kick() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return ok
}

// WatchdogInterval returns the unit's WatchdogSec, or 0 when no watchdog is
// configured for this process. Strobe at no more than half the interval.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
