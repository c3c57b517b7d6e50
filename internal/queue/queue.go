// Package queue abstracts the at-least-once delivery substrate between
// pipeline stages. Consumers must tolerate redelivery of the same body;
// messages that keep failing move to a dead-letter queue after a bounded
// number of receives.
package queue

import (
	"context"
	"time"
)

// Message is a received unit of work. Receipt identifies this particular
// delivery for Delete; ReceiveCount includes the current delivery.
type Message struct {
	ID           string
	Body         []byte
	Receipt      string
	ReceiveCount int
}

// Queue is the substrate contract: durable send, long-poll receive with a
// visibility timeout, and delete-by-receipt.
type Queue interface {
	Send(ctx context.Context, body []byte) error

	// Receive returns up to max messages, long-polling up to wait. Received
	// messages stay invisible for the substrate's visibility timeout; if not
	// deleted by then, they are redelivered.
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error)

	// Delete acknowledges a delivery so the message is not seen again.
	Delete(ctx context.Context, receipt string) error
}
