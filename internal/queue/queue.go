// Package queue keeps the in-memory schedule of pending actions. Entries
// are held sorted by absolute completion time and drained by a fixed-rate
// tick loop, one resolution per tick. The record store remains the source
// of truth; the queue is rebuilt from it after a restart.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateID is returned when an entry id is already queued.
var ErrDuplicateID = errors.New("queue: entry id already queued")

// DefaultTickInterval is how often the loop checks the head entry.
const DefaultTickInterval = time.Second

// Entry is one scheduled pending action. The queue only needs identity and
// timing; the pending-action record in the store carries everything else.
type Entry struct {
	ID       string
	Username string
	ActionID string
	DueAt    time.Time
}

type queuedEntry struct {
	Entry
	seq uint64
}

// Queue is a time-ordered pending action schedule. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []queuedEntry
	seq     uint64

	interval time.Duration
	now      func() time.Time
}

// New creates a queue polling at the given interval. A non-positive
// interval falls back to DefaultTickInterval.
func New(interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Queue{
		entries:  make([]queuedEntry, 0),
		interval: interval,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests use it to drive PopDue without
// sleeping.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if now != nil {
		q.now = now
	}
}

// Enqueue inserts an entry keyed by its completion time. Entries sharing a
// completion time keep insertion order.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, existing := range q.entries {
		if existing.ID == e.ID {
			return ErrDuplicateID
		}
	}

	q.seq++
	queued := queuedEntry{Entry: e, seq: q.seq}
	at := sort.Search(len(q.entries), func(i int) bool {
		if q.entries[i].DueAt.Equal(queued.DueAt) {
			return q.entries[i].seq > queued.seq
		}
		return q.entries[i].DueAt.After(queued.DueAt)
	})
	q.entries = append(q.entries, queuedEntry{})
	copy(q.entries[at+1:], q.entries[at:])
	q.entries[at] = queued
	return nil
}

// Cancel removes the identified entry. It returns false when the id is not
// queued; the caller treats that as a queue/store consistency warning, not
// a fatal error.
func (q *Queue) Cancel(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, entry := range q.entries {
		if entry.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry.Entry, true
		}
	}
	return Entry{}, false
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Peek returns the earliest-completing entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0].Entry, true
}

// PendingFor returns the queued entry for a user, if any. Enforcement of
// the one-pending-action-per-user rule lives in the hub; this is its
// lookup.
func (q *Queue) PendingFor(username string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.entries {
		if entry.Username == username {
			return entry.Entry, true
		}
	}
	return Entry{}, false
}

// PopDue removes and returns the head entry if its completion time has
// passed. At most one entry is popped per call, matching the
// one-resolution-per-tick contract; an overdue backlog drains across
// subsequent ticks.
func (q *Queue) PopDue(now time.Time) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	head := q.entries[0]
	if head.DueAt.After(now) {
		return Entry{}, false
	}
	q.entries = q.entries[1:]
	return head.Entry, true
}

// Run drives the tick loop until the stop channel closes. onDue runs on the
// loop goroutine, so resolutions never overlap each other.
func (q *Queue) Run(stop <-chan struct{}, onDue func(Entry)) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if entry, ok := q.PopDue(q.now()); ok {
				onDue(entry)
			}
		}
	}
}
