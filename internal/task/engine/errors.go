package engine

import "errors"

// ErrTimeout is wrapped into Result.Err when a run's deadline passes before
// the work function returns. Callers can test for it with errors.Is.
var ErrTimeout = errors.New("task timed out")

// ErrNoRunFunc is reported when a job reaches the runner with a nil Run.
// The registry rejects such descriptors at registration, so seeing this at
// runtime means a caller bypassed validation.
var ErrNoRunFunc = errors.New("task has no run function")
