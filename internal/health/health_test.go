package health

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

type fakePinger struct {
	err  error
	seen atomic.Int64
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.seen.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.err
}

type fakeWatchdog struct {
	kicks atomic.Int64
}

func (w *fakeWatchdog) Kick() { w.kicks.Add(1) }

func TestRunRecordsHealthy(t *testing.T) {
	t.Parallel()

	pinger := &fakePinger{}
	wd := &fakeWatchdog{}
	task := New(pinger, wd, logx.Nop())

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	last := task.Last()
	if !last.Healthy {
		t.Fatalf("Last().Healthy = false, want true")
	}
	if last.At.IsZero() {
		t.Fatalf("Last().At is zero, want stamped")
	}
	if last.Error != "" {
		t.Fatalf("Last().Error = %q, want empty", last.Error)
	}
	if got := wd.kicks.Load(); got != 1 {
		t.Fatalf("watchdog kicks = %d, want 1", got)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	t.Parallel()

	pingErr := errors.New("database is locked")
	pinger := &fakePinger{err: pingErr}
	wd := &fakeWatchdog{}
	task := New(pinger, wd, logx.Nop())

	err := task.Run(context.Background())
	if err == nil {
		t.Fatalf("Run = nil, want error")
	}
	if !errors.Is(err, pingErr) {
		t.Fatalf("Run = %v, want wrapped %v", err, pingErr)
	}
	last := task.Last()
	if last.Healthy {
		t.Fatalf("Last().Healthy = true, want false")
	}
	if !strings.Contains(last.Error, "database is locked") {
		t.Fatalf("Last().Error = %q, want ping error text", last.Error)
	}
	if got := wd.kicks.Load(); got != 0 {
		t.Fatalf("watchdog kicks = %d, want 0 on failure", got)
	}
}

func TestLastTracksLatestProbe(t *testing.T) {
	t.Parallel()

	pinger := &fakePinger{err: errors.New("down")}
	task := New(pinger, nil, logx.Nop())

	if err := task.Run(context.Background()); err == nil {
		t.Fatalf("Run = nil, want error while down")
	}
	if task.Last().Healthy {
		t.Fatalf("Last().Healthy = true after failed probe")
	}

	pinger.err = nil
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run = %v, want nil after recovery", err)
	}
	last := task.Last()
	if !last.Healthy || last.Error != "" {
		t.Fatalf("Last() = %+v, want healthy with no error", last)
	}
	if got := pinger.seen.Load(); got != 2 {
		t.Fatalf("pings = %d, want 2", got)
	}
}

func TestRunHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := New(&fakePinger{}, &fakeWatchdog{}, logx.Nop())
	err := task.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if task.Last().Healthy {
		t.Fatalf("Last().Healthy = true, want false for canceled probe")
	}
}

func TestZeroResultBeforeFirstRun(t *testing.T) {
	t.Parallel()

	task := New(&fakePinger{}, nil, logx.Nop())
	last := task.Last()
	if !last.At.IsZero() || last.Healthy || last.Error != "" {
		t.Fatalf("Last() = %+v, want zero Result before first run", last)
	}
}
