package notify

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// RetryResult reports a retry sweep.
type RetryResult struct {
	// Retried counts delivery attempts made.
	Retried int

	Delivered int

	// PermanentlyFailed counts notifications that used their last attempt
	// in this sweep.
	PermanentlyFailed int

	// Skipped counts notifications another sweep updated first.
	Skipped int

	Errors []apperr.ItemError
}

type retrySlot struct {
	attempted bool
	sent      bool
	exhausted bool
	skipped   bool
	err       error
}

// RunRetrySweep attempts delivery of every unsent notification in the
// restaurant whose schedule has come and that has attempts left.
func (d *Dispatcher) RunRetrySweep(ctx context.Context, restaurantID string) (*RetryResult, error) {
	pending, err := d.store.GetNotifications(ctx, store.NotificationFilter{
		RestaurantID: restaurantID,
		Unsent:       true,
		MaxRetries:   d.opts.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("loading unsent notifications: %w", err)
	}

	now := d.now()
	var due []model.Notification
	for _, n := range pending {
		if !n.ScheduledFor.After(now) {
			due = append(due, n)
		}
	}

	slots := make([]retrySlot, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i := range due {
		i := i
		g.Go(func() error {
			slots[i] = d.retryOne(gctx, &due[i])
			return nil
		})
	}
	_ = g.Wait()

	result := &RetryResult{}
	for i, s := range slots {
		switch {
		case s.skipped:
			result.Skipped++
		case s.err != nil:
			result.Errors = append(result.Errors, apperr.ItemError{ID: due[i].ID, Err: s.err})
		}
		if s.attempted {
			result.Retried++
		}
		if s.sent {
			result.Delivered++
		}
		if s.exhausted {
			result.PermanentlyFailed++
		}
	}
	return result, nil
}

func (d *Dispatcher) retryOne(ctx context.Context, n *model.Notification) retrySlot {
	if err := ctx.Err(); err != nil {
		return retrySlot{err: err}
	}
	user, err := d.store.GetUserByID(ctx, n.RecipientID)
	if err != nil {
		return retrySlot{err: err}
	}

	sent, err := d.deliver(ctx, n, *user)
	if apperr.IsConcurrentModification(err) {
		return retrySlot{skipped: true}
	}
	if err != nil {
		return retrySlot{err: err}
	}
	return retrySlot{
		attempted: true,
		sent:      sent,
		exhausted: !sent && n.IsPermanentlyFailed(d.opts.MaxRetries),
	}
}
