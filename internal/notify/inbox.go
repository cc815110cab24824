package notify

import (
	"context"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// MarkRead records that the recipient read a notification. Repeating it
// keeps the first read time.
func (d *Dispatcher) MarkRead(ctx context.Context, id string, actor model.Actor) error {
	if err := d.checkRecipient(ctx, id, actor); err != nil {
		return err
	}
	return d.store.MarkNotificationRead(ctx, id, d.now())
}

// MarkClicked records a click, which also counts as a read.
func (d *Dispatcher) MarkClicked(ctx context.Context, id string, actor model.Actor) error {
	if err := d.checkRecipient(ctx, id, actor); err != nil {
		return err
	}
	return d.store.MarkNotificationClicked(ctx, id, d.now())
}

// MarkUnread clears the read time.
func (d *Dispatcher) MarkUnread(ctx context.Context, id string, actor model.Actor) error {
	if err := d.checkRecipient(ctx, id, actor); err != nil {
		return err
	}
	return d.store.MarkNotificationUnread(ctx, id)
}

func (d *Dispatcher) checkRecipient(ctx context.Context, id string, actor model.Actor) error {
	n, err := d.store.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}
	if n.RecipientID != actor.UserID {
		return apperr.PermissionDeniedf("notification %s belongs to another user", id)
	}
	return nil
}

// Unread lists a user's sent, unread notifications, oldest first. A
// non-positive limit returns all of them.
func (d *Dispatcher) Unread(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return d.store.GetNotifications(ctx, store.NotificationFilter{
		RecipientID: userID,
		UnreadOnly:  true,
		Limit:       limit,
	})
}

// UnreadCount returns how many sent notifications the user has not read.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	unread, err := d.Unread(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}
