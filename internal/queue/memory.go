package queue

import (
	"context"
	"sync"
	"time"
)

// InMemory is a channel-backed queue for dev/testing. Retries are scheduled with timers.
// Requeued messages that find the channel full wait in a backlog that consumers drain first.
type InMemory struct {
	ch chan Message

	mu      sync.Mutex
	live    map[string]struct{}
	backlog []Message
	dead    []Message
	now     func() time.Time
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{
		ch:   make(chan Message, size),
		live: make(map[string]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) (bool, error) {
	msg = withDefaults(msg, q.now())
	if msg.ID != "" {
		q.mu.Lock()
		if _, ok := q.live[msg.ID]; ok {
			q.mu.Unlock()
			return false, nil
		}
		q.live[msg.ID] = struct{}{}
		q.mu.Unlock()
	}
	select {
	case q.ch <- msg:
		return true, nil
	case <-ctx.Done():
		q.release(msg.ID)
		return false, ctx.Err()
	}
}

// Consume returns a channel for workers. It closes when ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, ok := q.next(ctx)
			if !ok {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				q.requeue(msg)
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) next(ctx context.Context) (Message, bool) {
	q.mu.Lock()
	if len(q.backlog) > 0 {
		msg := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.mu.Unlock()
		return msg, true
	}
	q.mu.Unlock()
	select {
	case msg := <-q.ch:
		return msg, true
	case <-ctx.Done():
		return Message{}, false
	}
}

// requeue never blocks: a full channel spills into the backlog.
func (q *InMemory) requeue(msg Message) {
	select {
	case q.ch <- msg:
	default:
		q.mu.Lock()
		q.backlog = append(q.backlog, msg)
		q.mu.Unlock()
	}
}

// Complete releases the message ID.
func (q *InMemory) Complete(_ context.Context, msg Message) error {
	q.release(msg.ID)
	return nil
}

// Fail schedules a retry after the backoff delay or dead-letters the message.
func (q *InMemory) Fail(_ context.Context, msg Message, cause error) (bool, error) {
	msg, dead := recordFailure(msg, cause)
	if dead {
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		delete(q.live, msg.ID)
		q.mu.Unlock()
		return true, nil
	}
	time.AfterFunc(RetryDelay(msg.Backoff, msg.Attempts), func() { q.requeue(msg) })
	return false, nil
}

// Dead lists dead-lettered messages, oldest first.
func (q *InMemory) Dead(context.Context) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...), nil
}

func (q *InMemory) release(id string) {
	if id == "" {
		return
	}
	q.mu.Lock()
	delete(q.live, id)
	q.mu.Unlock()
}
