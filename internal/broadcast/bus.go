// Package broadcast implements the per-session fan-out bus (C2): a bounded
// ring buffer with many consumers, each tracking its own read position.
// Slow consumers fall behind instead of blocking the producer; once a
// consumer falls far enough behind that the buffer has wrapped past its
// last read position, it is handed a Lagged notification and resumes at
// the newest produced item, per spec.md §4.2/§5 ("late consumers observe
// Lagged(n) and MUST resume from the newest item").
//
// This generalizes the teacher's per-client bounded channel
// (internal/session.Client.sendCh, drop-on-full) into a shared ring buffer
// so that a lagging consumer is told how much it missed instead of just
// silently dropping messages one at a time.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const defaultCapacity = 1024

// Event is what a Receiver observes on each Recv call.
type Event struct {
	// Lagged is > 0 when this call reports a gap instead of delivering a
	// message; Message/Closed are both zero-valued in that case.
	Lagged int
	// Message carries the payload when Lagged == 0 && !Closed.
	Message string
	// Closed is true once the topic has been closed and fully drained.
	Closed bool
}

type topic struct {
	mu          sync.Mutex
	cond        *sync.Cond
	buf         []string
	writeSeq    int64
	capacity    int
	closed      bool
	subscribers int
}

func newTopic(capacity int) *topic {
	if capacity < 1 {
		capacity = 1
	}
	t := &topic{buf: make([]string, capacity), capacity: capacity}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *topic) send(msg string) {
	t.mu.Lock()
	t.buf[t.writeSeq%int64(t.capacity)] = msg
	t.writeSeq++
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *topic) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *topic) subscribe() *Receiver {
	t.mu.Lock()
	t.subscribers++
	seq := t.writeSeq
	t.mu.Unlock()
	return &Receiver{topic: t, nextSeq: seq}
}

// Receiver consumes events from one session's topic.
type Receiver struct {
	topic   *topic
	nextSeq int64
}

// Recv blocks until an event is available, the topic is closed, or ctx is
// done. Closed is sticky: once observed, subsequent calls keep returning
// it.
func (r *Receiver) Recv(ctx context.Context) (Event, error) {
	t := r.topic

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		case <-stop:
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	for r.nextSeq >= t.writeSeq && !t.closed {
		if ctx.Err() != nil {
			return Event{}, ctx.Err()
		}
		t.cond.Wait()
	}

	if t.closed && r.nextSeq >= t.writeSeq {
		return Event{Closed: true}, nil
	}

	oldestAvail := t.writeSeq - int64(t.capacity)
	if oldestAvail < 0 {
		oldestAvail = 0
	}
	if r.nextSeq < oldestAvail {
		missed := (t.writeSeq - 1) - r.nextSeq
		r.nextSeq = t.writeSeq - 1
		return Event{Lagged: int(missed)}, nil
	}

	msg := t.buf[r.nextSeq%int64(t.capacity)]
	r.nextSeq++
	return Event{Message: msg}, nil
}

// Unsubscribe drops this receiver's accounting from the topic's subscriber
// count.
func (r *Receiver) Unsubscribe() {
	t := r.topic
	t.mu.Lock()
	if t.subscribers > 0 {
		t.subscribers--
	}
	t.mu.Unlock()
}

// Bus maps session ids to lazily created topics.
type Bus struct {
	mu       sync.Mutex
	topics   map[uuid.UUID]*topic
	capacity int
}

// New creates a bus whose topics are created with the given buffer
// capacity (minimum 1, default 1024 if capacity <= 0).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Bus{topics: make(map[uuid.UUID]*topic), capacity: capacity}
}

func (b *Bus) ensure(sessionID uuid.UUID) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[sessionID]
	if !ok {
		t = newTopic(b.capacity)
		b.topics[sessionID] = t
	}
	return t
}

// Subscribe lazily creates the session's topic and returns a receiver
// positioned at the current write head.
func (b *Bus) Subscribe(sessionID uuid.UUID) *Receiver {
	return b.ensure(sessionID).subscribe()
}

// Broadcast lazily creates the session's topic and publishes msg. Sending
// with no subscribers is not an error.
func (b *Bus) Broadcast(sessionID uuid.UUID, msg string) {
	b.ensure(sessionID).send(msg)
}

// SubscriberCount returns the number of receivers currently attached.
func (b *Bus) SubscriberCount(sessionID uuid.UUID) int {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribers
}

// Close drops the session's topic; existing receivers observe Closed once
// they drain the remaining buffered events.
func (b *Bus) Close(sessionID uuid.UUID) {
	b.mu.Lock()
	t, ok := b.topics[sessionID]
	delete(b.topics, sessionID)
	b.mu.Unlock()
	if ok {
		t.close()
	}
}
