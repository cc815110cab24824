package store

import (
	"context"
	"time"

	"github.com/nhle/restaurant-ops/internal/model"
)

// TaskFilter controls filtering, sorting, and pagination for task queries.
type TaskFilter struct {
	RestaurantID    string         // required
	Statuses        []model.Status // any of these, or nil (all)
	ExcludeStatuses []model.Status // none of these
	AssignedTo      *string
	TaskType        *string
	HasDueDate      bool       // only tasks with a due_date
	DueBefore       *time.Time // due_date < DueBefore

	// After resumes a due_date-ordered scan past the given task.
	After *DueCursor

	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// DueCursor is a (due_date, id) position in a due_date-ordered scan.
type DueCursor struct {
	DueDate time.Time
	ID      string
}

// NotificationFilter controls notification queries.
type NotificationFilter struct {
	RestaurantID string
	RecipientID  string
	Unsent       bool // sent_at IS NULL
	UnreadOnly   bool // sent and read_at IS NULL
	MaxRetries   int  // retry_count < MaxRetries when > 0
	Limit        int
}

// Store defines the persistence interface for tasks, their dependency
// edges, escalation rules, users, preferences and notifications.
type Store interface {
	// === Tasks ===

	CreateTask(ctx context.Context, task *model.Task) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	GetTasksByIDs(ctx context.Context, ids []string) ([]model.Task, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// UpdateTask writes every mutable field of task if the stored version
	// equals expectedVersion, and returns the task with its new version.
	UpdateTask(ctx context.Context, task model.Task, expectedVersion int) (*model.Task, error)

	// === Dependencies ===

	// GetDependents returns tasks in restaurantID whose dependency set
	// contains taskID, optionally restricted to one status.
	GetDependents(ctx context.Context, restaurantID, taskID string, status *model.Status) ([]model.Task, error)

	// SetDependencies replaces the dependency set of a task under the same
	// version precondition as UpdateTask.
	SetDependencies(ctx context.Context, taskID string, deps []string, expectedVersion int) (*model.Task, error)

	// === Users & preferences ===

	UpsertUser(ctx context.Context, user model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUsersByRole(ctx context.Context, restaurantID string, role model.Role) ([]model.User, error)
	GetPreferences(ctx context.Context, userID string) (*model.NotificationPreferences, error)
	SavePreferences(ctx context.Context, prefs model.NotificationPreferences) error

	// === Escalation ===

	ReplaceEscalationRules(ctx context.Context, restaurantID string, rules []model.EscalationRule) error
	GetEscalationRules(ctx context.Context, restaurantID string) ([]model.EscalationRule, error)
	CreateEscalationRecord(ctx context.Context, rec model.EscalationRecord) error
	GetEscalationRecords(ctx context.Context, taskID string) ([]model.EscalationRecord, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotificationByID(ctx context.Context, id string) (*model.Notification, error)
	GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)

	// UpdateNotificationDelivery records a delivery outcome if the stored
	// retry_count still equals expectedRetryCount.
	UpdateNotificationDelivery(ctx context.Context, n model.Notification, expectedRetryCount int) error

	CountNotificationsSince(ctx context.Context, recipientID string, since time.Time) (int, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	MarkNotificationClicked(ctx context.Context, id string, at time.Time) error
	MarkNotificationUnread(ctx context.Context, id string) error
}
