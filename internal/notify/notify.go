// Package notify delivers operator notifications. Delivery is best-effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"time"
)

// KindMilestone is sent when the cache reaches a configured size.
const KindMilestone = "milestone"

// Event is one notification.
type Event struct {
	Kind   string    `json:"kind"`
	Total  int       `json:"total"`
	Handle string    `json:"handle"`
	Title  string    `json:"title"`
	At     time.Time `json:"at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error {
	return nil
}
