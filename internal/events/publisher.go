// Package events publishes accepted events to external message buses.
package events

import (
	"context"
	"errors"

	"chaos-organizer/internal/models"
)

// Publisher sends accepted events to an outbound feed. Delivery is best
// effort: callers log failures and never undo an acceptance because of them.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

// NoopPublisher discards every event. It is used when no feed is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// MultiPublisher publishes each event to every wrapped publisher.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
