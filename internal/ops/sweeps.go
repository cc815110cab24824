package ops

import (
	"context"

	"github.com/nhle/restaurant-ops/internal/dependency"
	"github.com/nhle/restaurant-ops/internal/escalation"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
)

// EscalationSweepReport is one escalation sweep plus its notifications.
type EscalationSweepReport struct {
	*escalation.SweepResult
	Dispatch *notify.DispatchResult
}

// RunEscalationSweep escalates every overdue task in the restaurant that
// matches a rule and has not reached the rule's cap.
func (s *Service) RunEscalationSweep(ctx context.Context, restaurantID string) (*EscalationSweepReport, error) {
	res, err := s.escalation.RunSweep(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return &EscalationSweepReport{
		SweepResult: res,
		Dispatch:    s.announce(ctx, "escalation sweep", res.Intents()),
	}, nil
}

// OverdueReport is one overdue-marking pass plus its notifications.
type OverdueReport struct {
	*escalation.OverdueResult
	Dispatch *notify.DispatchResult
}

// MarkOverdue moves past-due open tasks to overdue.
func (s *Service) MarkOverdue(ctx context.Context, restaurantID string) (*OverdueReport, error) {
	res, err := s.escalation.MarkOverdue(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return &OverdueReport{
		OverdueResult: res,
		Dispatch:      s.announce(ctx, "overdue sweep", res.Intents),
	}, nil
}

// ReconcileReport is one blocked-task repair pass plus its notifications.
type ReconcileReport struct {
	*dependency.ReconcileResult
	Dispatch *notify.DispatchResult
}

// Reconcile re-checks every blocked task in the restaurant and unblocks
// those whose dependencies are all completed.
func (s *Service) Reconcile(ctx context.Context, restaurantID string) (*ReconcileReport, error) {
	res, err := s.resolver.Reconcile(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return &ReconcileReport{
		ReconcileResult: res,
		Dispatch:        s.announce(ctx, "reconcile", res.Intents),
	}, nil
}

// RunNotificationDispatch evaluates and delivers caller-built intents.
func (s *Service) RunNotificationDispatch(ctx context.Context, intents []model.NotificationIntent) (*notify.DispatchResult, error) {
	return s.dispatcher.Dispatch(ctx, intents)
}

// RunNotificationRetrySweep retries undelivered notifications in the
// restaurant.
func (s *Service) RunNotificationRetrySweep(ctx context.Context, restaurantID string) (*notify.RetryResult, error) {
	return s.dispatcher.RunRetrySweep(ctx, restaurantID)
}

// Inbox returns up to limit of the actor's unread notifications and the
// total unread count.
func (s *Service) Inbox(ctx context.Context, actor model.Actor, limit int) ([]model.Notification, int, error) {
	items, err := s.dispatcher.Unread(ctx, actor.UserID, limit)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.dispatcher.UnreadCount(ctx, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	return items, count, nil
}
