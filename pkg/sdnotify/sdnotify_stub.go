//go:build !linux

package sdnotify

import "time"

func Ready() bool    { return false }
func Stopping() bool { return false }
func Kick() bool     { return false }

func WatchdogInterval() time.Duration { return 0 }
