package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/dependency"
	"github.com/nhle/restaurant-ops/internal/escalation"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
)

// TaskResult is a written task plus what happened to its notifications.
type TaskResult struct {
	Task      model.Task
	Unblocked []string
	Dispatch  *notify.DispatchResult
}

// NewTask is the caller-supplied part of a task being created.
type NewTask struct {
	Title        string
	Description  string
	TaskType     string
	Priority     model.Priority
	DueDate      *time.Time
	ScheduledFor *time.Time
	AssignedTo   string
	Dependencies []string

	EstimatedDurationMinutes *int
	Metadata                 model.Metadata
}

// CreateTask validates and persists a new task in the actor's restaurant.
// A task with any dependency not yet completed starts blocked; otherwise
// it starts assigned when it has an assignee and pending when not.
func (s *Service) CreateTask(ctx context.Context, actor model.Actor, in NewTask) (*TaskResult, error) {
	if actor.RestaurantID == "" || actor.UserID == "" {
		return nil, apperr.PermissionDeniedf("actor has no restaurant scope")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.Validationf("task title must not be empty")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return nil, apperr.Validationf("unknown priority %q", in.Priority)
	}
	if in.EstimatedDurationMinutes != nil && *in.EstimatedDurationMinutes < 0 {
		return nil, apperr.Validationf("estimated duration must not be negative")
	}

	if in.AssignedTo != "" {
		u, err := s.store.GetUserByID(ctx, in.AssignedTo)
		if err != nil {
			return nil, err
		}
		if u.RestaurantID != actor.RestaurantID || !u.Active {
			return nil, apperr.Validationf("user %s cannot be assigned tasks in %s", u.ID, actor.RestaurantID)
		}
	}

	unresolved, err := s.resolver.Validate(ctx, actor.RestaurantID, "", in.Dependencies)
	if err != nil {
		return nil, err
	}

	task := model.Task{
		RestaurantID:             actor.RestaurantID,
		Title:                    strings.TrimSpace(in.Title),
		Description:              in.Description,
		TaskType:                 in.TaskType,
		Priority:                 in.Priority,
		DueDate:                  in.DueDate,
		ScheduledFor:             in.ScheduledFor,
		AssignedTo:               in.AssignedTo,
		CreatedBy:                actor.UserID,
		Dependencies:             in.Dependencies,
		EstimatedDurationMinutes: in.EstimatedDurationMinutes,
		Metadata:                 in.Metadata.Clone(),
	}
	switch {
	case unresolved > 0:
		task.Status = model.StatusBlocked
	case task.AssignedTo != "":
		task.Status = model.StatusAssigned
	default:
		task.Status = model.StatusPending
	}

	if err := s.store.CreateTask(ctx, &task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	var intents []model.NotificationIntent
	if task.AssignedTo != "" && task.AssignedTo != actor.UserID {
		intents = append(intents, model.NotificationIntent{
			RestaurantID: task.RestaurantID,
			Recipient:    task.AssignedTo,
			TaskID:       task.ID,
			Type:         model.NotifyTaskAssigned,
			Channel:      model.ChannelPush,
			Title:        "New task assigned",
			Message:      fmt.Sprintf("You have been assigned %q", task.Title),
			Payload:      map[string]any{"task_id": task.ID, "status": string(task.Status)},
		})
	}

	return &TaskResult{Task: task, Dispatch: s.announce(ctx, "create task", intents)}, nil
}

// SetDependencies replaces a task's dependency set after validating it.
// An open task gaining an unresolved dependency becomes blocked; a blocked
// task whose new set is fully completed returns to pending.
func (s *Service) SetDependencies(ctx context.Context, actor model.Actor, taskID string, deps []string, expectedVersion int) (*TaskResult, error) {
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != task.Version {
		return nil, apperr.ConcurrentModificationf(
			"task %s: expected version %d, stored version %d", task.ID, expectedVersion, task.Version)
	}
	if !actor.HasManagerScope(task.RestaurantID) && actor.UserID != task.CreatedBy {
		return nil, apperr.PermissionDeniedf("user %q may not edit dependencies of task %s", actor.UserID, task.ID)
	}
	if task.Status.IsTerminal() {
		return nil, apperr.InvalidTransitionf("task %s is %s", task.ID, task.Status)
	}

	unresolved, err := s.resolver.Validate(ctx, task.RestaurantID, task.ID, deps)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.SetDependencies(ctx, task.ID, deps, expectedVersion)
	if err != nil {
		return nil, err
	}

	var to model.Status
	switch {
	case unresolved > 0 && (updated.Status == model.StatusPending || updated.Status == model.StatusAssigned):
		to = model.StatusBlocked
	case unresolved == 0 && updated.Status == model.StatusBlocked:
		to = model.StatusPending
	default:
		return &TaskResult{Task: *updated, Dispatch: &notify.DispatchResult{}}, nil
	}

	res, err := s.lifecycle.Transition(ctx, lifecycle.TransitionRequest{
		TaskID:          updated.ID,
		To:              to,
		Actor:           model.SystemActor(updated.RestaurantID),
		ExpectedVersion: updated.Version,
		Silent:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("moving task %s to %s after dependency edit: %w", updated.ID, to, err)
	}
	return &TaskResult{Task: res.Task, Dispatch: &notify.DispatchResult{}}, nil
}

// TransitionTask moves a task to a new status and dispatches the
// resulting notifications, including dependency_ready for any dependents
// the move unblocked. Callers must pass the version they read.
func (s *Service) TransitionTask(ctx context.Context, req lifecycle.TransitionRequest) (*TaskResult, error) {
	if req.ExpectedVersion <= 0 {
		return nil, apperr.Validationf("transition of task %s requires the version read by the caller", req.TaskID)
	}
	res, err := s.lifecycle.Transition(ctx, req)
	if err != nil {
		return nil, err
	}
	return &TaskResult{
		Task:      res.Task,
		Unblocked: res.Unblocked,
		Dispatch:  s.announce(ctx, "transition", res.Intents),
	}, nil
}

// AssignTask hands a task to a user. Callers must pass the version they
// read.
func (s *Service) AssignTask(ctx context.Context, req lifecycle.AssignRequest) (*TaskResult, error) {
	if req.ExpectedVersion <= 0 {
		return nil, apperr.Validationf("assignment of task %s requires the version read by the caller", req.TaskID)
	}
	res, err := s.lifecycle.Assign(ctx, req)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: res.Task, Dispatch: s.announce(ctx, "assign", res.Intents)}, nil
}

// EscalationOutcome is a manual escalation plus its notifications.
type EscalationOutcome struct {
	*escalation.Result
	Dispatch *notify.DispatchResult
}

// EscalateManually escalates one task on behalf of a person.
func (s *Service) EscalateManually(ctx context.Context, req escalation.ManualRequest) (*EscalationOutcome, error) {
	res, err := s.escalation.EscalateManually(ctx, req)
	if err != nil {
		return nil, err
	}
	return &EscalationOutcome{Result: res, Dispatch: s.announce(ctx, "escalate", res.Intents)}, nil
}

// DependencyStatus reports how far a task's dependency set has progressed.
func (s *Service) DependencyStatus(ctx context.Context, actor model.Actor, taskID string) (*dependency.TaskStatus, error) {
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actor.RestaurantID != task.RestaurantID && actor.Role != model.RoleSystem {
		return nil, apperr.PermissionDeniedf("task %s is outside the actor's restaurant", task.ID)
	}
	return s.resolver.Status(ctx, taskID)
}

// EscalationHistory lists a task's escalation records, oldest first.
func (s *Service) EscalationHistory(ctx context.Context, actor model.Actor, taskID string) ([]model.EscalationRecord, error) {
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actor.RestaurantID != task.RestaurantID && actor.Role != model.RoleSystem {
		return nil, apperr.PermissionDeniedf("task %s is outside the actor's restaurant", task.ID)
	}
	return s.store.GetEscalationRecords(ctx, taskID)
}
