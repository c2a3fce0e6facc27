package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultVisibility = 30 * time.Second

type memEntry struct {
	id            string
	body          string
	receiptHandle string
	readCount     int
	visibleAt     time.Time
}

// MemoryQueue is an in-process Client with visibility-timeout semantics,
// used for local development and tests. Unlike a buffered channel it
// redelivers messages that were received but never deleted.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []*memEntry
	now     func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// NewMemoryQueueWithClock creates a MemoryQueue with an injected clock.
func NewMemoryQueueWithClock(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{now: now}
}

// Send enqueues a payload, optionally delayed.
func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &memEntry{
		id:        uuid.NewString(),
		body:      body,
		visibleAt: q.now().Add(delay),
	})
	return nil
}

// Receive returns up to maxMessages currently-visible messages, hiding
// them for the visibility window. Blocks up to waitSeconds when empty.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int, visibility time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if visibility <= 0 {
		visibility = defaultVisibility
	}

	deadline := q.now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		if msgs := q.take(maxMessages, visibility); len(msgs) > 0 {
			return msgs, nil
		}
		if waitSeconds <= 0 || !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) take(maxMessages int, visibility time.Duration) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var msgs []Message
	for _, entry := range q.entries {
		if len(msgs) >= maxMessages {
			break
		}
		if entry.visibleAt.After(now) {
			continue
		}
		entry.readCount++
		entry.visibleAt = now.Add(visibility)
		entry.receiptHandle = uuid.NewString()
		msgs = append(msgs, Message{
			ID:            entry.id,
			Body:          entry.body,
			ReceiptHandle: entry.receiptHandle,
			ReadCount:     entry.readCount,
		})
	}
	return msgs
}

// Delete removes the message matching the receipt handle.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, entry := range q.entries {
		if entry.receiptHandle != receiptHandle {
			kept = append(kept, entry)
		}
	}
	q.entries = kept
	return nil
}

// Len reports how many messages remain in the queue, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
