package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/eventbus"
	rtsup "github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/runtime/supervisor"
	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Bound per-send call so a wedged transport cannot hang a worker.
const sendTimeout = 10 * time.Second

const historyMax = 300

// Sender delivers one message to the configured chat.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// NopSender drops every message. Stands in for the real transport in tests
// and when no chat is configured.
type NopSender struct{}

func (NopSender) Send(context.Context, string) error { return nil }

// Service implements the async announcement pipeline:
// bounded queue + workers + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan string
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// In-memory history of delivered announcements (for /statusz).
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:    log,
		sender: sender,
		bus:    bus,
		cfg:    cfg,
	}
	// Token bucket: burst = one minute's quota, so a batch of new listings
	// goes out immediately and the limiter only spaces sustained traffic.
	s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), cfg.RatePerMin)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Running reports whether the pipeline is accepting and draining messages.
func (s *Service) Running() bool {
	s.mu.Lock()
	running := s.queue != nil && s.stopDone == nil
	s.mu.Unlock()
	return running
}

// Start is idempotent. It is a no-op when the pipeline is disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan string, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Delivery is best-effort; a worker crash must not take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.Restart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// The queue only closes during Stop; anything else is a crash
			// and the supervisor restarts the worker.
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return nil
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithRestartDelay(time.Second))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without
	// leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop the workers; queued messages are lost.
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues one announcement. It never blocks: a full queue returns
// ErrQueueFull and the message is dropped.
func (s *Service) Notify(ctx context.Context, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	s.publish("notifier.queued", text, nil)
	select {
	case q <- text:
		return nil
	default:
		s.publish("notifier.dropped", text, ErrQueueFull)
		return ErrQueueFull
	}
}

// Announce is the fire-and-forget hook the scrape task calls for each new
// listing. Delivery failures are logged, not returned.
func (s *Service) Announce(ctx context.Context, text string) {
	if err := s.Notify(ctx, text); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("announcement dropped", logx.Err(err))
	}
}

// History returns a copy of recently delivered announcements, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, text)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.sender
	s.mu.Unlock()

	if snd == nil || text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honors cancellation).
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(runCtx, sendTimeout)
		err := snd.Send(callCtx, text)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.publish("notifier.sent", text, nil)
			return
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.log.Warn("announcement delivery failed", logx.Err(lastErr))
	s.publish("notifier.failed", text, lastErr)
}

func (s *Service) publish(typ, text string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{Text: text, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
