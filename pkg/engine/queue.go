package engine

import (
	"time"

	"github.com/google/uuid"
)

// result is the outcome delivered to a waiting Submit call.
type result struct {
	frame []byte
	err   error
}

// pending is one request written to the engine and awaiting its frame.
// It is owned by the Queue from Push until Pop/Remove/RejectAll.
type pending struct {
	id         uuid.UUID
	source     string
	enqueuedAt time.Time
	timer      *time.Timer
	done       chan result
}

func newPending(source string) *pending {
	return &pending{
		id:         uuid.New(),
		source:     source,
		enqueuedAt: time.Now(),
		done:       make(chan result, 1),
	}
}

// resolve delivers the outcome and stops the timeout. It must be called
// exactly once, after the entry has left the queue.
func (p *pending) resolve(frame []byte, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- result{frame: frame, err: err}
}

// Queue is the FIFO of in-flight requests. Entries are never reordered:
// the head always receives the next frame. Queue is not goroutine-safe;
// the Supervisor guards it with its lock.
type Queue struct {
	items []*pending
}

// Len returns the number of pending requests.
func (q *Queue) Len() int { return len(q.items) }

// Push appends p at the tail.
func (q *Queue) Push(p *pending) {
	q.items = append(q.items, p)
}

// Pop removes and returns the head, or nil when empty.
func (q *Queue) Pop() *pending {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

// Remove deletes p wherever it is and reports whether it was present.
func (q *Queue) Remove(p *pending) bool {
	for i, item := range q.items {
		if item == p {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// RejectAll empties the queue, failing every entry with err.
// It returns the number of entries rejected.
func (q *Queue) RejectAll(err error) int {
	n := len(q.items)
	for _, p := range q.items {
		p.resolve(nil, err)
	}
	q.items = nil
	return n
}
