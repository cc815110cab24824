package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
	StatusOverdue    Status = "overdue"
	StatusEscalated  Status = "escalated"
)

// IsTerminal reports whether no further transitions are allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted,
		StatusBlocked, StatusCancelled, StatusOverdue, StatusEscalated:
		return true
	}
	return false
}

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityUrgent:
		return true
	}
	return false
}

// Task is an operational work item in a restaurant (cleaning, audit,
// training, ...).
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`

	// RestaurantID scopes the task; every query and permission check is
	// bounded by it.
	RestaurantID string `json:"restaurant_id"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// TaskType is a free-form category such as "cleaning" or "audit".
	// Escalation rules match on it.
	TaskType string `json:"task_type"`

	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`

	DueDate      *time.Time `json:"due_date,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	// AssignedTo is the user ID of the assignee, empty when unassigned.
	AssignedTo string `json:"assigned_to,omitempty"`

	// CreatedBy is the user ID of the creator.
	CreatedBy string `json:"created_by"`

	// Dependencies holds the IDs of tasks this task waits on.
	Dependencies []string `json:"dependencies,omitempty"`

	// Version increments by one on every successful write and is the
	// optimistic-concurrency precondition for the next one.
	Version int `json:"version"`

	EscalationLevel int `json:"escalation_level"`

	EstimatedDurationMinutes *int `json:"estimated_duration_minutes,omitempty"`
	ActualDurationMinutes    *int `json:"actual_duration_minutes,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Metadata Metadata `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOverdue reports whether the task has a due date before now and is
// still open.
func (t Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && !t.Status.IsTerminal()
}

// OverdueMinutes returns the whole minutes elapsed since the due date,
// or 0 when the task is not past due.
func (t Task) OverdueMinutes(now time.Time) int {
	if t.DueDate == nil || !t.DueDate.Before(now) {
		return 0
	}
	return int(now.Sub(*t.DueDate) / time.Minute)
}

// HasDependency reports whether id is in the task's dependency set.
func (t Task) HasDependency(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Metadata is free-form key/value data stored alongside a task.
type Metadata map[string]any

// metadataEscalationKey holds escalation provenance inside Metadata.
const metadataEscalationKey = "escalation"

// EscalationMetadata is the provenance recorded under metadata.escalation.
type EscalationMetadata struct {
	EscalationLevel int        `json:"escalation_level"`
	Reason          string     `json:"reason,omitempty"`
	EscalatedBy     string     `json:"escalated_by,omitempty"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`
	AutoEscalated   bool       `json:"auto_escalated,omitempty"`
	RuleID          string     `json:"rule_id,omitempty"`
	Targets         []string   `json:"targets,omitempty"`
}

// Escalation decodes metadata.escalation. A missing or malformed entry
// yields the zero value.
func (m Metadata) Escalation() EscalationMetadata {
	var meta EscalationMetadata
	raw, ok := m[metadataEscalationKey]
	if !ok {
		return meta
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

// SetEscalation stores meta under metadata.escalation, replacing any
// previous value. The receiver must be non-nil.
func (m Metadata) SetEscalation(meta EscalationMetadata) {
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return
	}
	m[metadataEscalationKey] = generic
}

// Clone returns a shallow copy so callers can mutate a task read from the
// store without aliasing the original map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
