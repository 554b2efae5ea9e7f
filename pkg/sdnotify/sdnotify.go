// Package sdnotify reports daemon lifecycle to systemd when running under a
// Type=notify unit. Every call is a no-op when NOTIFY_SOCKET is unset and on
// non-linux builds, so callers never need to guard for environment.
package sdnotify

// Watchdog adapts the package-level Kick to the health task's watchdog
// interface. Wire it only when WatchdogInterval reports a configured
// watchdog.
type Watchdog struct{}

func (Watchdog) Kick() { Kick() }
