package escalation

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Skip records a task the sweep looked at and left alone.
type Skip struct {
	TaskID string
	Reason string
}

// Skip reasons.
const (
	SkipNoRule    = "no matching rule"
	SkipCapped    = "escalation cap reached"
	SkipNoTargets = "no active users hold the target role"
	SkipConflict  = "modified concurrently"
	SkipStatus    = "status does not allow escalation"
)

// SweepResult reports one sweep over a restaurant. Every examined task
// lands in exactly one of Escalated, Skipped or Errors.
type SweepResult struct {
	Escalated []Result
	Skipped   []Skip
	Errors    []apperr.ItemError
}

// Intents returns the notification intents of every escalation.
func (r *SweepResult) Intents() []model.NotificationIntent {
	var out []model.NotificationIntent
	for _, e := range r.Escalated {
		out = append(out, e.Intents...)
	}
	return out
}

// MatchRule returns the first rule in rules that applies to task at the
// given overdue age, or nil.
func MatchRule(rules []model.EscalationRule, task model.Task, overdueMinutes int) *model.EscalationRule {
	for i := range rules {
		if rules[i].Matches(task, overdueMinutes) {
			return &rules[i]
		}
	}
	return nil
}

// outcome is the per-task result slot filled by a sweep worker.
type outcome struct {
	result *Result
	skip   string
	err    error
}

// RunSweep escalates the restaurant's overdue tasks according to its
// ordered rule list. Tasks already escalated are not considered, so one
// pass escalates a task at most once. Overdue tasks are read oldest first
// in pages no larger than the remaining batch. Skipped tasks do not count
// against BatchSize, so the pass stops once BatchSize tasks were acted on
// or the overdue tasks run out. Per-task failures are collected in the
// result; only failing to load a page is returned as an error.
func (e *Engine) RunSweep(ctx context.Context, restaurantID string) (*SweepResult, error) {
	rules, err := e.store.GetEscalationRules(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("loading escalation rules: %w", err)
	}

	now := e.now()
	filter := store.TaskFilter{
		RestaurantID: restaurantID,
		ExcludeStatuses: []model.Status{
			model.StatusCompleted, model.StatusCancelled, model.StatusEscalated,
		},
		HasDueDate: true,
		DueBefore:  &now,
		SortBy:     "due_date",
	}

	result := &SweepResult{}
	seen := make(map[string]bool)
	acted := 0
	for acted < e.opts.BatchSize {
		filter.Limit = e.opts.BatchSize - acted
		page, err := e.store.GetTasks(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("loading overdue tasks: %w", err)
		}
		if len(page) == 0 {
			break
		}
		last := page[len(page)-1]
		filter.After = &store.DueCursor{DueDate: *last.DueDate, ID: last.ID}

		var tasks []model.Task
		for _, t := range page {
			if !seen[t.ID] {
				seen[t.ID] = true
				tasks = append(tasks, t)
			}
		}
		acted += e.sweepPage(ctx, tasks, rules, result)

		if len(page) < filter.Limit {
			break
		}
	}
	return result, nil
}

// sweepPage runs one page of tasks through the worker pool, records every
// outcome in result and returns how many tasks were acted on.
func (e *Engine) sweepPage(ctx context.Context, tasks []model.Task, rules []model.EscalationRule, result *SweepResult) int {
	outcomes := make([]outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			res, skip, err := e.sweepOne(gctx, t, rules)
			outcomes[i] = outcome{result: res, skip: skip, err: err}
			return nil
		})
	}
	_ = g.Wait()

	acted := 0
	for i, o := range outcomes {
		id := tasks[i].ID
		switch {
		case apperr.IsConcurrentModification(o.err):
			acted++
			result.Skipped = append(result.Skipped, Skip{TaskID: id, Reason: SkipConflict})
		case o.err != nil:
			acted++
			log.Printf("escalation: sweep of task %s: %v", id, o.err)
			result.Errors = append(result.Errors, apperr.ItemError{ID: id, Err: o.err})
		case o.skip != "":
			result.Skipped = append(result.Skipped, Skip{TaskID: id, Reason: o.skip})
		default:
			acted++
			result.Escalated = append(result.Escalated, *o.result)
		}
	}
	return acted
}

func (e *Engine) sweepOne(ctx context.Context, task model.Task, rules []model.EscalationRule) (*Result, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	overdue := task.OverdueMinutes(e.now())
	rule := MatchRule(rules, task, overdue)
	if rule == nil {
		return nil, SkipNoRule, nil
	}
	if task.EscalationLevel >= rule.MaxEscalations {
		return nil, SkipCapped, nil
	}
	if !lifecycle.CanTransition(task.Status, model.StatusEscalated) {
		return nil, SkipStatus, nil
	}

	targets, err := e.store.GetUsersByRole(ctx, task.RestaurantID, rule.EscalateToRole)
	if err != nil {
		return nil, "", err
	}
	if len(targets) == 0 {
		return nil, SkipNoTargets, nil
	}

	res, err := e.apply(ctx, task, escalation{
		reason:      fmt.Sprintf("overdue by %d minutes", overdue),
		escalatedBy: model.SystemActor(task.RestaurantID).UserID,
		auto:        true,
		ruleID:      rule.ID,
		targets:     targets,
		channels:    ruleChannels(*rule),
		reassign:    rule.AutoReassign,
	})
	if err != nil {
		return nil, "", err
	}
	return res, "", nil
}

// ruleChannels returns the rule's valid channels, or in_app when it lists
// none.
func ruleChannels(rule model.EscalationRule) []model.Channel {
	var out []model.Channel
	for _, ch := range rule.NotificationChannels {
		if ch.Valid() {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		out = []model.Channel{model.ChannelInApp}
	}
	return out
}
