// Package cleanup implements the retention task: drop listings and job run
// records older than the configured number of days.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/task/clock"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Pruner is the slice of the storage API the task needs.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (listings, runs int64, err error)
}

type Task struct {
	pruner     Pruner
	daysToKeep int
	clk        clock.Clock
	log        logx.Logger
}

func New(pruner Pruner, daysToKeep int, clk clock.Clock, log logx.Logger) *Task {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Task{pruner: pruner, daysToKeep: daysToKeep, clk: clk, log: log}
}

// Run deletes everything first seen (or started) more than daysToKeep days
// ago. A non-positive retention means keep forever; the run is a no-op then.
func (t *Task) Run(ctx context.Context) error {
	if t.daysToKeep <= 0 {
		t.log.Debug("cleanup disabled, retention is unbounded")
		return nil
	}

	cutoff := t.clk.Now().AddDate(0, 0, -t.daysToKeep)
	listings, runs, err := t.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	t.log.Info("cleanup finished",
		logx.Time("cutoff", cutoff),
		logx.Int64("listings", listings),
		logx.Int64("runs", runs),
	)
	return nil
}
