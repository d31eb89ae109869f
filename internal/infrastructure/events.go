package infrastructure

import (
	"context"
	"errors"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// MultiPublisher fans task events out to several publishers
type MultiPublisher struct {
	publishers []domain.EventPublisher
}

// NewMultiPublisher creates a fan-out over the non-nil publishers
func NewMultiPublisher(publishers ...domain.EventPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Len returns the number of publishers
func (m *MultiPublisher) Len() int {
	return len(m.publishers)
}

// Publish delivers the event to every publisher and joins their errors
func (m *MultiPublisher) Publish(ctx context.Context, event domain.TaskEvent) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc adapts a function to EventPublisher
type PublisherFunc func(ctx context.Context, event domain.TaskEvent) error

// Publish calls f(ctx, event)
func (f PublisherFunc) Publish(ctx context.Context, event domain.TaskEvent) error {
	return f(ctx, event)
}
