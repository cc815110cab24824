// Package dependency resolves "blocked-by" edges between tasks. When a task
// completes, its blocked dependents are re-checked against a fresh read of
// their dependency sets and moved back to pending once every dependency is
// completed.
package dependency

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Resolver unblocks dependents of completed tasks. It implements
// lifecycle.CompletionHook.
type Resolver struct {
	store     store.Store
	lifecycle *lifecycle.Manager
}

// NewResolver creates a Resolver that writes through m.
func NewResolver(s store.Store, m *lifecycle.Manager) *Resolver {
	return &Resolver{store: s, lifecycle: m}
}

// TaskStatus summarises how far a task's dependency set has progressed.
type TaskStatus struct {
	TaskID    string
	Total     int
	Completed int

	// Unresolved holds dependencies that exist but are not completed.
	Unresolved []string

	// Missing holds dependency ids with no stored task.
	Missing []string
}

// Satisfied reports whether every dependency is completed.
func (s TaskStatus) Satisfied() bool {
	return s.Completed == s.Total
}

// ReconcileResult reports a Reconcile pass.
type ReconcileResult struct {
	Checked   int
	Unblocked []string
	Intents   []model.NotificationIntent
	Errors    []apperr.ItemError
}

// TaskCompleted re-evaluates every blocked dependent of task.
func (r *Resolver) TaskCompleted(ctx context.Context, task model.Task) (lifecycle.CompletionResult, error) {
	var result lifecycle.CompletionResult

	blocked := model.StatusBlocked
	candidates, err := r.store.GetDependents(ctx, task.RestaurantID, task.ID, &blocked)
	if err != nil {
		return result, fmt.Errorf("finding dependents of task %s: %w", task.ID, err)
	}

	var errs []error
	for _, c := range candidates {
		intent, unblocked, err := r.tryUnblock(ctx, c.ID)
		if err != nil {
			errs = append(errs, apperr.ItemError{ID: c.ID, Err: err})
			continue
		}
		if !unblocked {
			continue
		}
		result.Unblocked = append(result.Unblocked, c.ID)
		if intent != nil {
			result.Intents = append(result.Intents, *intent)
		}
	}

	return result, errors.Join(errs...)
}

// Reconcile re-checks every blocked task in a restaurant. It repairs
// dependents left blocked when a completion hook failed and is safe to run
// any number of times.
func (r *Resolver) Reconcile(ctx context.Context, restaurantID string) (*ReconcileResult, error) {
	tasks, err := r.store.GetTasks(ctx, store.TaskFilter{
		RestaurantID: restaurantID,
		Statuses:     []model.Status{model.StatusBlocked},
	})
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{Checked: len(tasks)}
	for _, t := range tasks {
		intent, unblocked, err := r.tryUnblock(ctx, t.ID)
		if err != nil {
			result.Errors = append(result.Errors, apperr.ItemError{ID: t.ID, Err: err})
			continue
		}
		if unblocked {
			result.Unblocked = append(result.Unblocked, t.ID)
			if intent != nil {
				result.Intents = append(result.Intents, *intent)
			}
		}
	}
	return result, nil
}

// Status reports the dependency progress of a task. A cyclic or stuck set
// shows up here as a non-zero unresolved count.
func (r *Resolver) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	task, err := r.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	status, err := r.statusOf(ctx, *task)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *Resolver) statusOf(ctx context.Context, task model.Task) (TaskStatus, error) {
	status := TaskStatus{TaskID: task.ID, Total: len(task.Dependencies)}
	if len(task.Dependencies) == 0 {
		return status, nil
	}

	deps, err := r.store.GetTasksByIDs(ctx, task.Dependencies)
	if err != nil {
		return status, fmt.Errorf("reading dependencies of task %s: %w", task.ID, err)
	}
	byID := make(map[string]model.Task, len(deps))
	for _, d := range deps {
		byID[d.ID] = d
	}

	for _, id := range task.Dependencies {
		d, ok := byID[id]
		switch {
		case !ok:
			status.Missing = append(status.Missing, id)
		case d.Status == model.StatusCompleted:
			status.Completed++
		default:
			status.Unresolved = append(status.Unresolved, id)
		}
	}
	return status, nil
}

// tryUnblock moves a blocked task to pending if all its dependencies are
// completed at read time. A lost version race is retried once with a fresh
// read; a second loss is reported.
func (r *Resolver) tryUnblock(ctx context.Context, taskID string) (*model.NotificationIntent, bool, error) {
	for attempt := 0; ; attempt++ {
		task, err := r.store.GetTaskByID(ctx, taskID)
		if err != nil {
			return nil, false, err
		}
		if task.Status != model.StatusBlocked {
			return nil, false, nil
		}

		status, err := r.statusOf(ctx, *task)
		if err != nil {
			return nil, false, err
		}
		if !status.Satisfied() {
			return nil, false, nil
		}

		res, err := r.lifecycle.Transition(ctx, lifecycle.TransitionRequest{
			TaskID:          task.ID,
			To:              model.StatusPending,
			Actor:           model.SystemActor(task.RestaurantID),
			ExpectedVersion: task.Version,
			Silent:          true,
		})
		if apperr.IsConcurrentModification(err) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, false, err
		}

		return readyIntent(res.Task), true, nil
	}
}

func readyIntent(t model.Task) *model.NotificationIntent {
	if t.AssignedTo == "" {
		return nil
	}
	return &model.NotificationIntent{
		RestaurantID: t.RestaurantID,
		Recipient:    t.AssignedTo,
		TaskID:       t.ID,
		Type:         model.NotifyDependencyReady,
		Channel:      model.ChannelPush,
		Title:        "Task ready",
		Message:      fmt.Sprintf("All prerequisites of %q are done", t.Title),
		Payload: map[string]any{
			"task_id": t.ID,
			"status":  string(t.Status),
			"version": t.Version,
		},
	}
}
