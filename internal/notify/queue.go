package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ericmiano/K-BANK/internal/domain"
)

const defaultTTL = 5 * time.Second

// Queue is a transient feed of success/failure messages. Entries expire on
// their own timers or when dismissed early; multiple entries coexist and
// insertion order is preserved for display.
type Queue struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []domain.Notification
	timers  map[string]*time.Timer
	closed  bool

	// onChange is invoked outside the queue lock, so listeners may call
	// back into the queue.
	onChange func([]domain.Notification)
}

type Option func(*Queue)

func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.ttl = ttl }
}

// WithChangeListener registers a callback invoked with the active entries
// after every push, dismissal, or expiry. Renderers hang off this.
func WithChangeListener(fn func([]domain.Notification)) Option {
	return func(q *Queue) { q.onChange = fn }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		ttl:    defaultTTL,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends an entry and schedules its own removal after the queue TTL.
// The returned id can dismiss it early.
func (q *Queue) Push(message string, severity domain.Severity) string {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return ""
	}

	id := uuid.NewString()
	q.entries = append(q.entries, domain.Notification{
		ID:        id,
		Message:   message,
		Severity:  severity,
		ExpiresAt: time.Now().Add(q.ttl),
	})
	q.timers[id] = time.AfterFunc(q.ttl, func() {
		q.Dismiss(id)
	})

	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	q.emit(snapshot)
	return id
}

// Dismiss removes an entry before its timer elapses. Unknown ids are a
// no-op; the expiry timer and an explicit dismissal may race.
func (q *Queue) Dismiss(id string) {
	q.mu.Lock()

	t, ok := q.timers[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	t.Stop()
	delete(q.timers, id)

	for i, n := range q.entries {
		if n.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}

	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	q.emit(snapshot)
}

// Active returns the live entries in insertion order.
func (q *Queue) Active() []domain.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Close stops all pending expiry timers. Further pushes are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.entries = nil
}

func (q *Queue) snapshotLocked() []domain.Notification {
	out := make([]domain.Notification, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) emit(entries []domain.Notification) {
	if q.onChange != nil {
		q.onChange(entries)
	}
}
