// Package queue provides visibility-timeout work queues for the triage
// pipeline. Messages are redelivered after the visibility timeout unless
// explicitly deleted; the per-message read count drives dead-lettering.
package queue

import (
	"context"
	"time"
)

// Message is one delivered queue record.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	// ReadCount is how many times this message has been delivered,
	// including the current delivery.
	ReadCount int
}

// Client is the minimal queue contract consumed by the pipeline.
type Client interface {
	// Send enqueues a payload, optionally delayed.
	Send(ctx context.Context, body string, delay time.Duration) error
	// Receive fetches up to maxMessages, hiding them from other consumers
	// for the visibility window.
	Receive(ctx context.Context, maxMessages int, waitSeconds int, visibility time.Duration) ([]Message, error)
	// Delete permanently removes a delivered message.
	Delete(ctx context.Context, receiptHandle string) error
}
