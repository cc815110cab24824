package escalation

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// OverdueResult reports a MarkOverdue pass.
type OverdueResult struct {
	Marked  []string
	Skipped []Skip
	Intents []model.NotificationIntent
	Errors  []apperr.ItemError
}

// MarkOverdue moves open tasks past their due date to overdue and tells
// the assignee (or the creator, for unassigned tasks).
func (e *Engine) MarkOverdue(ctx context.Context, restaurantID string) (*OverdueResult, error) {
	now := e.now()
	tasks, err := e.store.GetTasks(ctx, store.TaskFilter{
		RestaurantID: restaurantID,
		Statuses: []model.Status{
			model.StatusPending, model.StatusAssigned, model.StatusInProgress,
		},
		HasDueDate: true,
		DueBefore:  &now,
		SortBy:     "due_date",
		Limit:      e.opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("loading open tasks: %w", err)
	}

	type slot struct {
		task *model.Task
		err  error
	}
	slots := make([]slot, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			res, err := e.lifecycle.Transition(gctx, lifecycle.TransitionRequest{
				TaskID:          t.ID,
				To:              model.StatusOverdue,
				Actor:           model.SystemActor(t.RestaurantID),
				ExpectedVersion: t.Version,
				Silent:          true,
			})
			if err != nil {
				slots[i] = slot{err: err}
				return nil
			}
			slots[i] = slot{task: &res.Task}
			return nil
		})
	}
	_ = g.Wait()

	result := &OverdueResult{}
	for i, s := range slots {
		id := tasks[i].ID
		switch {
		case apperr.IsConcurrentModification(s.err):
			result.Skipped = append(result.Skipped, Skip{TaskID: id, Reason: SkipConflict})
		case s.err != nil:
			log.Printf("escalation: marking task %s overdue: %v", id, s.err)
			result.Errors = append(result.Errors, apperr.ItemError{ID: id, Err: s.err})
		default:
			result.Marked = append(result.Marked, id)
			if in, ok := overdueIntent(*s.task, now); ok {
				result.Intents = append(result.Intents, in)
			}
		}
	}
	return result, nil
}

func overdueIntent(t model.Task, now time.Time) (model.NotificationIntent, bool) {
	recipient := t.AssignedTo
	if recipient == "" {
		recipient = t.CreatedBy
	}
	if recipient == "" {
		return model.NotificationIntent{}, false
	}
	minutes := t.OverdueMinutes(now)
	return model.NotificationIntent{
		RestaurantID: t.RestaurantID,
		Recipient:    recipient,
		TaskID:       t.ID,
		Type:         model.NotifyTaskOverdue,
		Channel:      model.ChannelPush,
		Title:        "Task overdue",
		Message:      fmt.Sprintf("%q is %d minutes past due", t.Title, minutes),
		Payload: map[string]any{
			"task_id":         t.ID,
			"priority":        string(t.Priority),
			"overdue_minutes": minutes,
		},
	}, true
}
