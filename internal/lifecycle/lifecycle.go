// Package lifecycle enforces the task state machine: which transitions are
// legal, who may perform them, which timestamps they stamp, and which
// notification intents they announce.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// CompletionResult is what a CompletionHook did in reaction to a task
// reaching completed.
type CompletionResult struct {
	Unblocked []string
	Intents   []model.NotificationIntent
}

// CompletionHook runs after a completed transition has been written.
type CompletionHook interface {
	TaskCompleted(ctx context.Context, task model.Task) (CompletionResult, error)
}

// TransitionRequest asks for a single task to move to a new status.
type TransitionRequest struct {
	TaskID string
	To     model.Status
	Actor  model.Actor

	// ExpectedVersion is the version the caller read. Zero means "whatever
	// is stored now", which only engine-internal callers should use.
	ExpectedVersion int

	// ActualDurationMinutes overrides the computed duration on completion.
	ActualDurationMinutes *int

	// Silent suppresses the transition's own notification intents; the
	// caller announces the change itself.
	Silent bool
}

// TransitionResult is the outcome of a successful transition.
type TransitionResult struct {
	Task      model.Task
	Intents   []model.NotificationIntent
	Unblocked []string
}

// AssignRequest asks for a task to be handed to a user.
type AssignRequest struct {
	TaskID          string
	AssigneeID      string
	Actor           model.Actor
	ExpectedVersion int
}

// Manager applies transitions to tasks in a Store.
type Manager struct {
	store store.Store
	now   func() time.Time
	hook  CompletionHook
}

// NewManager creates a Manager. A nil now uses time.Now.
func NewManager(s store.Store, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: s, now: now}
}

// SetCompletionHook registers the hook run after every completion.
func (m *Manager) SetCompletionHook(h CompletionHook) {
	m.hook = h
}

// Transition moves a task to req.To. Escalated is only entered through
// the escalation engine, which owns the level and its history.
func (m *Manager) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if !req.To.Valid() {
		return nil, apperr.Validationf("unknown status %q", req.To)
	}

	task, err := m.store.GetTaskByID(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	expected := req.ExpectedVersion
	if expected == 0 {
		expected = task.Version
	}
	if expected != task.Version {
		return nil, apperr.ConcurrentModificationf(
			"task %s: expected version %d, stored version %d", task.ID, expected, task.Version)
	}

	if !req.Actor.CanActOn(*task) {
		return nil, apperr.PermissionDeniedf("user %q may not change task %s", req.Actor.UserID, task.ID)
	}
	if req.To == model.StatusEscalated {
		return nil, apperr.InvalidTransitionf("task %s: escalate it through the escalation engine", task.ID)
	}
	if !CanTransition(task.Status, req.To) {
		return nil, apperr.InvalidTransitionf("task %s: %s -> %s", task.ID, task.Status, req.To)
	}
	if req.To == model.StatusAssigned && task.AssignedTo == "" {
		return nil, apperr.Validationf("task %s has no assignee; assign it instead", task.ID)
	}
	if task.Status == model.StatusBlocked && req.To == model.StatusPending {
		if err := m.requireDependenciesCompleted(ctx, *task); err != nil {
			return nil, err
		}
	}

	next := *task
	next.Metadata = task.Metadata.Clone()
	applyTransition(&next, req.To, m.now().UTC(), req.ActualDurationMinutes)

	updated, err := m.store.UpdateTask(ctx, next, expected)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Task: *updated}
	if !req.Silent {
		result.Intents = transitionIntents(*updated, task.Status, req.Actor)
	}

	if req.To == model.StatusCompleted && m.hook != nil {
		hookResult, err := m.hook.TaskCompleted(ctx, *updated)
		if err != nil {
			// The completion itself is committed; Reconcile repairs any
			// dependents left blocked.
			log.Printf("lifecycle: completion hook for task %s: %v", updated.ID, err)
		}
		result.Unblocked = hookResult.Unblocked
		result.Intents = append(result.Intents, hookResult.Intents...)
	}

	return result, nil
}

// Assign hands a task to assigneeID. Open tasks move to assigned; a
// blocked task keeps its status and is picked up by the assignee once its
// dependencies complete.
func (m *Manager) Assign(ctx context.Context, req AssignRequest) (*TransitionResult, error) {
	if req.AssigneeID == "" {
		return nil, apperr.Validationf("assignee must not be empty")
	}

	task, err := m.store.GetTaskByID(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	expected := req.ExpectedVersion
	if expected == 0 {
		expected = task.Version
	}
	if expected != task.Version {
		return nil, apperr.ConcurrentModificationf(
			"task %s: expected version %d, stored version %d", task.ID, expected, task.Version)
	}

	if !req.Actor.HasManagerScope(task.RestaurantID) && req.Actor.UserID != task.CreatedBy {
		return nil, apperr.PermissionDeniedf("user %q may not assign task %s", req.Actor.UserID, task.ID)
	}
	if req.Actor.RestaurantID != task.RestaurantID && req.Actor.Role != model.RoleSystem {
		return nil, apperr.PermissionDeniedf("user %q is outside restaurant %s", req.Actor.UserID, task.RestaurantID)
	}
	if task.Status.IsTerminal() {
		return nil, apperr.InvalidTransitionf("task %s is %s and cannot be assigned", task.ID, task.Status)
	}

	assignee, err := m.store.GetUserByID(ctx, req.AssigneeID)
	if err != nil {
		return nil, err
	}
	if assignee.RestaurantID != task.RestaurantID || !assignee.Active {
		return nil, apperr.Validationf("user %s cannot be assigned tasks in %s", assignee.ID, task.RestaurantID)
	}

	next := *task
	next.Metadata = task.Metadata.Clone()
	next.AssignedTo = assignee.ID
	if task.Status != model.StatusBlocked {
		next.Status = model.StatusAssigned
	}

	updated, err := m.store.UpdateTask(ctx, next, expected)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{Task: *updated}
	if assignee.ID != req.Actor.UserID {
		result.Intents = append(result.Intents, model.NotificationIntent{
			RestaurantID: updated.RestaurantID,
			Recipient:    assignee.ID,
			TaskID:       updated.ID,
			Type:         model.NotifyTaskAssigned,
			Channel:      model.ChannelPush,
			Title:        "New task assigned",
			Message:      fmt.Sprintf("You have been assigned %q", updated.Title),
			Payload:      taskPayload(*updated),
		})
	}
	return result, nil
}

// requireDependenciesCompleted rejects leaving blocked while any
// dependency is missing or not completed.
func (m *Manager) requireDependenciesCompleted(ctx context.Context, task model.Task) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	deps, err := m.store.GetTasksByIDs(ctx, task.Dependencies)
	if err != nil {
		return fmt.Errorf("reading dependencies of task %s: %w", task.ID, err)
	}
	completed := 0
	for _, d := range deps {
		if d.Status == model.StatusCompleted {
			completed++
		}
	}
	if completed < len(task.Dependencies) {
		return apperr.InvalidTransitionf("task %s: %d of %d dependencies unresolved",
			task.ID, len(task.Dependencies)-completed, len(task.Dependencies))
	}
	return nil
}

// applyTransition sets the status and the timestamps the new status owns.
func applyTransition(t *model.Task, to model.Status, now time.Time, actualMinutes *int) {
	t.Status = to
	switch to {
	case model.StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case model.StatusCompleted:
		t.CompletedAt = &now
		switch {
		case actualMinutes != nil:
			v := *actualMinutes
			t.ActualDurationMinutes = &v
		case t.ActualDurationMinutes == nil && t.StartedAt != nil:
			v := int(now.Sub(*t.StartedAt) / time.Minute)
			if v < 0 {
				v = 0
			}
			t.ActualDurationMinutes = &v
		}
	case model.StatusCancelled:
		t.CancelledAt = &now
	}
}

// transitionIntents notifies the assignee and the creator, skipping the
// actor and never notifying the same user twice.
func transitionIntents(t model.Task, from model.Status, actor model.Actor) []model.NotificationIntent {
	var recipients []string
	if t.AssignedTo != "" && t.AssignedTo != actor.UserID {
		recipients = append(recipients, t.AssignedTo)
	}
	if t.CreatedBy != "" && t.CreatedBy != actor.UserID && t.CreatedBy != t.AssignedTo {
		recipients = append(recipients, t.CreatedBy)
	}

	kind := intentTypeFor(t.Status)
	intents := make([]model.NotificationIntent, 0, len(recipients))
	for _, r := range recipients {
		payload := taskPayload(t)
		payload["from_status"] = string(from)
		payload["changed_by"] = actor.UserID
		intents = append(intents, model.NotificationIntent{
			RestaurantID: t.RestaurantID,
			Recipient:    r,
			TaskID:       t.ID,
			Type:         kind,
			Channel:      model.ChannelInApp,
			Title:        transitionTitle(t.Status),
			Message:      fmt.Sprintf("%q moved from %s to %s", t.Title, from, t.Status),
			Payload:      payload,
		})
	}
	return intents
}

func transitionTitle(s model.Status) string {
	switch s {
	case model.StatusCompleted:
		return "Task completed"
	case model.StatusAssigned:
		return "Task assigned"
	case model.StatusOverdue:
		return "Task overdue"
	case model.StatusCancelled:
		return "Task cancelled"
	}
	return "Task updated"
}

func taskPayload(t model.Task) map[string]any {
	return map[string]any{
		"task_id":  t.ID,
		"status":   string(t.Status),
		"priority": string(t.Priority),
		"version":  t.Version,
	}
}
