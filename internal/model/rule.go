package model

import "time"

// EscalationRule describes when an overdue task is escalated and to whom.
// Rules are evaluated in Position order; the first match wins.
type EscalationRule struct {
	ID           string `json:"id" yaml:"id"`
	RestaurantID string `json:"restaurant_id" yaml:"-"`
	Position     int    `json:"position" yaml:"-"`

	// TaskType and Priority are optional matchers; empty matches any.
	TaskType string   `json:"task_type,omitempty" yaml:"task_type"`
	Priority Priority `json:"priority,omitempty" yaml:"priority"`

	OverdueMinutes       int       `json:"overdue_minutes" yaml:"overdue_minutes"`
	EscalateToRole       Role      `json:"escalate_to_role" yaml:"escalate_to_role"`
	NotificationChannels []Channel `json:"notification_channels" yaml:"notification_channels"`
	AutoReassign         bool      `json:"auto_reassign" yaml:"auto_reassign"`
	MaxEscalations       int       `json:"max_escalations" yaml:"max_escalations"`
}

// Matches reports whether the rule applies to the task at the given
// overdue age.
func (r EscalationRule) Matches(t Task, overdueMinutes int) bool {
	if r.TaskType != "" && r.TaskType != t.TaskType {
		return false
	}
	if r.Priority != "" && r.Priority != t.Priority {
		return false
	}
	return overdueMinutes >= r.OverdueMinutes
}

// EscalationRecord is one row of a task's escalation history.
type EscalationRecord struct {
	ID          string    `json:"id" db:"id"`
	TaskID      string    `json:"task_id" db:"task_id"`
	Level       int       `json:"level" db:"level"`
	Reason      string    `json:"reason" db:"reason"`
	EscalatedBy string    `json:"escalated_by" db:"escalated_by"`
	RuleID      string    `json:"rule_id" db:"rule_id"`
	Auto        bool      `json:"auto" db:"auto"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
