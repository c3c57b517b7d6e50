// Package notify publishes security alerts to interested parties. Delivery
// is best-effort: a failed notification must never fail the calling stage.
package notify

import "context"

// Notifier delivers a subject + message pair to a notification channel.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// NopNotifier discards notifications; used when no topic is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, subject, message string) error {
	return nil
}
