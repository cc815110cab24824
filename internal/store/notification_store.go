package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
)

type notificationRow struct {
	ID            string     `db:"id"`
	RestaurantID  string     `db:"restaurant_id"`
	RecipientID   string     `db:"recipient_id"`
	TaskID        string     `db:"task_id"`
	Type          string     `db:"type"`
	Channel       string     `db:"channel"`
	Title         string     `db:"title"`
	Message       string     `db:"message"`
	Payload       string     `db:"payload"`
	ScheduledFor  time.Time  `db:"scheduled_for"`
	SentAt        *time.Time `db:"sent_at"`
	DeliveredAt   *time.Time `db:"delivered_at"`
	ReadAt        *time.Time `db:"read_at"`
	ClickedAt     *time.Time `db:"clicked_at"`
	FailedAt      *time.Time `db:"failed_at"`
	FailureReason string     `db:"failure_reason"`
	RetryCount    int        `db:"retry_count"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:            r.ID,
		RestaurantID:  r.RestaurantID,
		RecipientID:   r.RecipientID,
		TaskID:        r.TaskID,
		Type:          model.NotificationType(r.Type),
		Channel:       model.Channel(r.Channel),
		Title:         r.Title,
		Message:       r.Message,
		ScheduledFor:  r.ScheduledFor,
		SentAt:        r.SentAt,
		DeliveredAt:   r.DeliveredAt,
		ReadAt:        r.ReadAt,
		ClickedAt:     r.ClickedAt,
		FailedAt:      r.FailedAt,
		FailureReason: r.FailureReason,
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt,
	}
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), &n.Payload); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling payload of notification %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// CreateNotification inserts a new notification record.
func (s *SQLStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.timestamp()
	}
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = n.CreatedAt
	}
	payload, err := marshalJSON(n.Payload, "{}")
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (
			id, restaurant_id, recipient_id, task_id, type, channel,
			title, message, payload, scheduled_for,
			sent_at, delivered_at, read_at, clicked_at, failed_at,
			failure_reason, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.RestaurantID, n.RecipientID, n.TaskID, string(n.Type), string(n.Channel),
		n.Title, n.Message, payload, n.ScheduledFor.UTC(),
		utcPtr(n.SentAt), utcPtr(n.DeliveredAt), utcPtr(n.ReadAt), utcPtr(n.ClickedAt), utcPtr(n.FailedAt),
		n.FailureReason, n.RetryCount, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// GetNotificationByID retrieves a single notification.
func (s *SQLStore) GetNotificationByID(ctx context.Context, id string) (*model.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM notifications WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("notification %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	n, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNotifications retrieves notifications matching the filter, oldest
// scheduled first.
func (s *SQLStore) GetNotifications(
	ctx context.Context,
	filter NotificationFilter,
) ([]model.Notification, error) {
	var conditions []string
	var args []any

	if filter.RestaurantID != "" {
		conditions = append(conditions, "restaurant_id = ?")
		args = append(args, filter.RestaurantID)
	}
	if filter.RecipientID != "" {
		conditions = append(conditions, "recipient_id = ?")
		args = append(args, filter.RecipientID)
	}
	if filter.Unsent {
		conditions = append(conditions, "sent_at IS NULL")
	}
	if filter.UnreadOnly {
		conditions = append(conditions, "sent_at IS NOT NULL AND read_at IS NULL")
	}
	if filter.MaxRetries > 0 {
		conditions = append(conditions, "retry_count < ?")
		args = append(args, filter.MaxRetries)
	}

	query := "SELECT * FROM notifications"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scheduled_for ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// UpdateNotificationDelivery records sent/delivered/failed state and the
// retry counter, guarded by the previously read retry_count.
func (s *SQLStore) UpdateNotificationDelivery(
	ctx context.Context,
	n model.Notification,
	expectedRetryCount int,
) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE notifications SET
			sent_at = ?, delivered_at = ?, failed_at = ?,
			failure_reason = ?, retry_count = ?
		WHERE id = ? AND retry_count = ?`),
		utcPtr(n.SentAt), utcPtr(n.DeliveredAt), utcPtr(n.FailedAt),
		n.FailureReason, n.RetryCount,
		n.ID, expectedRetryCount,
	)
	if err != nil {
		return fmt.Errorf("updating delivery of notification %s: %w", n.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected for notification %s: %w", n.ID, err)
	}
	if rows == 0 {
		if _, err := s.GetNotificationByID(ctx, n.ID); err != nil {
			return err
		}
		return apperr.ConcurrentModificationf(
			"notification %s: retry_count changed since read (expected %d)",
			n.ID, expectedRetryCount,
		)
	}
	return nil
}

// CountNotificationsSince counts notifications persisted for a recipient
// at or after since.
func (s *SQLStore) CountNotificationsSince(
	ctx context.Context,
	recipientID string,
	since time.Time,
) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.q(`
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = ? AND created_at >= ?`), recipientID, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("counting notifications for %s: %w", recipientID, err)
	}
	return count, nil
}

// MarkNotificationRead sets read_at unless already set.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	return s.execNotification(ctx, "marking notification read", id,
		"UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ?", at.UTC(), id)
}

// MarkNotificationClicked sets clicked_at, and read_at if unset.
func (s *SQLStore) MarkNotificationClicked(ctx context.Context, id string, at time.Time) error {
	return s.execNotification(ctx, "marking notification clicked", id, `
		UPDATE notifications SET
			clicked_at = COALESCE(clicked_at, ?),
			read_at = COALESCE(read_at, ?)
		WHERE id = ?`, at.UTC(), at.UTC(), id)
}

// MarkNotificationUnread clears read_at.
func (s *SQLStore) MarkNotificationUnread(ctx context.Context, id string) error {
	return s.execNotification(ctx, "marking notification unread", id,
		"UPDATE notifications SET read_at = NULL WHERE id = ?", id)
}

func (s *SQLStore) execNotification(ctx context.Context, op, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if rows == 0 {
		return apperr.NotFoundf("notification %s", id)
	}
	return nil
}
