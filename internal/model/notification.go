package model

import "time"

// NotificationType identifies the event a notification reports.
type NotificationType string

const (
	NotifyTaskAssigned    NotificationType = "task_assigned"
	NotifyTaskDue         NotificationType = "task_due"
	NotifyTaskOverdue     NotificationType = "task_overdue"
	NotifyTaskCompleted   NotificationType = "task_completed"
	NotifyEscalation      NotificationType = "escalation"
	NotifyReminder        NotificationType = "reminder"
	NotifyDependencyReady NotificationType = "dependency_ready"
	NotifyWorkflowTrigger NotificationType = "workflow_trigger"
)

// IsUrgent reports whether the type bypasses quiet hours and frequency caps.
func (t NotificationType) IsUrgent() bool {
	return t == NotifyEscalation || t == NotifyTaskOverdue
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// NotificationIntent is the ephemeral request to tell a user about an
// event. It becomes a Notification only if the preference check passes.
type NotificationIntent struct {
	RestaurantID string
	Recipient    string
	TaskID       string
	Type         NotificationType
	Channel      Channel
	Title        string
	Message      string

	// ScheduledFor delays delivery; nil means now.
	ScheduledFor *time.Time

	Payload map[string]any
}

// Notification is a persisted, possibly delivered, notification.
type Notification struct {
	ID           string           `json:"id"`
	RestaurantID string           `json:"restaurant_id"`
	RecipientID  string           `json:"recipient_id"`
	TaskID       string           `json:"task_id,omitempty"`
	Type         NotificationType `json:"type"`
	Channel      Channel          `json:"channel"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Payload      map[string]any   `json:"payload,omitempty"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
}

// IsPermanentlyFailed reports whether the notification used up its
// delivery attempts without being sent.
func (n Notification) IsPermanentlyFailed(maxRetries int) bool {
	return n.SentAt == nil && n.RetryCount >= maxRetries
}
