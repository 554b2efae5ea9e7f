package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal describing something the job system did:
// a run started, finished, timed out, or was skipped. Data carries a small
// payload (typically a run record) and should be JSON-serializable so
// subscribers can persist or forward it as-is.
//
// Publish never blocks. Subscribers receive on buffered channels; a slow
// subscriber loses events rather than stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory fanout bus shared across the daemon. It owns no
// goroutines; delivery happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may unsubscribe (and close its channel) between the
		// snapshot above and this send; the recover swallows that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe because Publish recovers from sends on closed channels.
			close(ch)
		})
	}
	return ch, unsub
}
