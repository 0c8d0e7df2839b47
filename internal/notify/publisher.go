package notify

import (
	"context"
	"errors"

	"qms/dispatch-service/internal/models"
)

// Publisher broadcasts committed changes. Delivery is best effort;
// observers converge through their own re-fetching.
type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

type PublisherFunc func(ctx context.Context, event models.ChangeEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event models.ChangeEvent) error {
	return f(ctx, event)
}

// Fanout delivers every event to each publisher and joins their failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.ChangeEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
