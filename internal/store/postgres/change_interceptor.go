package postgres

import (
	"context"
	"fmt"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// ChangeInterceptor wraps a domain.StrategyStore and publishes a
// domain.StrategyChange descriptor for every successful mutation, so the
// registry's cache-sync reducer can decide whether to register,
// unregister, or fully reconcile without polling the store.
type ChangeInterceptor struct {
	inner   domain.StrategyStore
	publish func(domain.StrategyChange)
}

// NewChangeInterceptor wraps inner, invoking publish after each successful
// write. publish must not block; callers typically pass a SignalBus publish
// closure or an in-process eventbus.Bus.Publish.
func NewChangeInterceptor(inner domain.StrategyStore, publish func(domain.StrategyChange)) *ChangeInterceptor {
	return &ChangeInterceptor{inner: inner, publish: publish}
}

// Create inserts a strategy and publishes a ChangeCreate descriptor.
func (c *ChangeInterceptor) Create(ctx context.Context, s domain.Strategy) error {
	if err := c.inner.Create(ctx, s); err != nil {
		return err
	}
	after := s
	c.publish(domain.StrategyChange{Kind: domain.ChangeCreate, After: &after})
	return nil
}

// Update overwrites a strategy and publishes a ChangeUpdate descriptor
// carrying both the prior and new state, so the reducer can detect
// transitions (e.g. active -> inactive) that require unregistering.
func (c *ChangeInterceptor) Update(ctx context.Context, s domain.Strategy) error {
	before, err := c.inner.GetByID(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("change interceptor: load prior state for %s: %w", s.ID, err)
	}
	if err := c.inner.Update(ctx, s); err != nil {
		return err
	}
	after := s
	c.publish(domain.StrategyChange{Kind: domain.ChangeUpdate, Before: &before, After: &after})
	return nil
}

// GetByID delegates to the wrapped store.
func (c *ChangeInterceptor) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	return c.inner.GetByID(ctx, id)
}

// ListActive delegates to the wrapped store.
func (c *ChangeInterceptor) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Strategy, error) {
	return c.inner.ListActive(ctx, opts)
}

// IncrementSubscriberCount adjusts the subscriber count and publishes a
// ChangeUpdate descriptor, since crossing zero flips Strategy.Schedulable.
func (c *ChangeInterceptor) IncrementSubscriberCount(ctx context.Context, id string, delta int) (int, error) {
	before, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("change interceptor: load prior state for %s: %w", id, err)
	}

	count, err := c.inner.IncrementSubscriberCount(ctx, id, delta)
	if err != nil {
		return 0, err
	}

	after := before
	after.SubscriberCount = count
	c.publish(domain.StrategyChange{Kind: domain.ChangeUpdate, Before: &before, After: &after})
	return count, nil
}

// Delete removes a strategy and publishes a ChangeDelete descriptor.
func (c *ChangeInterceptor) Delete(ctx context.Context, id string) error {
	before, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("change interceptor: load prior state for %s: %w", id, err)
	}
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.publish(domain.StrategyChange{Kind: domain.ChangeDelete, Before: &before})
	return nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*ChangeInterceptor)(nil)
