// Package escalation raises overdue or stuck tasks to managers. Manual
// escalation and the rule-driven sweep share the same write path: bump the
// escalation level, record provenance under metadata.escalation, append a
// history row, and emit one escalation intent per target.
package escalation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Options tunes the sweep.
type Options struct {
	// BatchSize bounds how many tasks one sweep acts on, and the page
	// size it reads overdue tasks in.
	BatchSize int

	// Workers bounds how many tasks are processed concurrently.
	Workers int
}

// Engine evaluates escalations against a Store.
type Engine struct {
	store     store.Store
	lifecycle *lifecycle.Manager
	now       func() time.Time
	opts      Options
}

// NewEngine creates an Engine. A nil now uses time.Now.
func NewEngine(s store.Store, m *lifecycle.Manager, now func() time.Time, opts Options) *Engine {
	if now == nil {
		now = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Engine{store: s, lifecycle: m, now: now, opts: opts}
}

// ManualRequest asks for one task to be escalated by a person.
type ManualRequest struct {
	TaskID string

	// TargetUserID or TargetRole selects who is told. With neither set,
	// every active admin and manager of the restaurant is.
	TargetUserID string
	TargetRole   model.Role

	Reason string
	Urgent bool
	Actor  model.Actor

	// ExpectedVersion is the version the caller read; zero skips the check.
	ExpectedVersion int
}

// Result describes one successful escalation.
type Result struct {
	Task    model.Task
	Level   int
	RuleID  string
	Targets []string
	Intents []model.NotificationIntent

	// Reassigned is set when the task was handed to the first target.
	Reassigned bool
}

// EscalateManually escalates a task on behalf of req.Actor.
func (e *Engine) EscalateManually(ctx context.Context, req ManualRequest) (*Result, error) {
	task, err := e.store.GetTaskByID(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != task.Version {
		return nil, apperr.ConcurrentModificationf(
			"task %s: expected version %d, stored version %d", task.ID, req.ExpectedVersion, task.Version)
	}
	if !req.Actor.CanActOn(*task) {
		return nil, apperr.PermissionDeniedf("user %q may not escalate task %s", req.Actor.UserID, task.ID)
	}
	if task.Status != model.StatusEscalated && !lifecycle.CanTransition(task.Status, model.StatusEscalated) {
		return nil, apperr.InvalidTransitionf("task %s is %s and cannot be escalated", task.ID, task.Status)
	}

	targets, err := e.resolveManualTargets(ctx, *task, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, apperr.NotFoundf("no active escalation targets for task %s", task.ID)
	}

	channel := model.ChannelInApp
	if req.Urgent {
		channel = model.ChannelPush
	}
	reason := req.Reason
	if reason == "" {
		reason = "escalated manually"
	}

	return e.apply(ctx, *task, escalation{
		reason:      reason,
		escalatedBy: req.Actor.UserID,
		urgent:      req.Urgent,
		targets:     targets,
		channels:    []model.Channel{channel},
	})
}

func (e *Engine) resolveManualTargets(ctx context.Context, task model.Task, req ManualRequest) ([]model.User, error) {
	switch {
	case req.TargetUserID != "":
		u, err := e.store.GetUserByID(ctx, req.TargetUserID)
		if err != nil {
			return nil, err
		}
		if u.RestaurantID != task.RestaurantID || !u.Active {
			return nil, apperr.NotFoundf("active user %s in restaurant %s", u.ID, task.RestaurantID)
		}
		return []model.User{*u}, nil
	case req.TargetRole != "":
		return e.store.GetUsersByRole(ctx, task.RestaurantID, req.TargetRole)
	}

	var users []model.User
	for _, role := range []model.Role{model.RoleAdmin, model.RoleManager} {
		found, err := e.store.GetUsersByRole(ctx, task.RestaurantID, role)
		if err != nil {
			return nil, err
		}
		users = append(users, found...)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// escalation is the input shared by both entry points.
type escalation struct {
	reason      string
	escalatedBy string
	urgent      bool
	auto        bool
	ruleID      string
	targets     []model.User
	channels    []model.Channel
	reassign    bool
}

// apply performs the versioned write, appends history, and builds intents.
func (e *Engine) apply(ctx context.Context, task model.Task, esc escalation) (*Result, error) {
	now := e.now().UTC()

	meta := task.Metadata.Escalation()
	level := task.EscalationLevel
	if meta.EscalationLevel > level {
		level = meta.EscalationLevel
	}
	level++

	targetIDs := make([]string, 0, len(esc.targets))
	for _, u := range esc.targets {
		targetIDs = append(targetIDs, u.ID)
	}

	next := task
	next.Metadata = task.Metadata.Clone()
	next.Status = model.StatusEscalated
	next.EscalationLevel = level
	if esc.urgent {
		next.Priority = model.PriorityUrgent
	}
	next.Metadata.SetEscalation(model.EscalationMetadata{
		EscalationLevel: level,
		Reason:          esc.reason,
		EscalatedBy:     esc.escalatedBy,
		EscalatedAt:     &now,
		AutoEscalated:   esc.auto,
		RuleID:          esc.ruleID,
		Targets:         targetIDs,
	})

	updated, err := e.store.UpdateTask(ctx, next, task.Version)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateEscalationRecord(ctx, model.EscalationRecord{
		TaskID:      updated.ID,
		Level:       level,
		Reason:      esc.reason,
		EscalatedBy: esc.escalatedBy,
		RuleID:      esc.ruleID,
		Auto:        esc.auto,
		CreatedAt:   now,
	}); err != nil {
		log.Printf("escalation: recording history of task %s: %v", updated.ID, err)
	}

	res := &Result{
		Task:    *updated,
		Level:   level,
		RuleID:  esc.ruleID,
		Targets: targetIDs,
	}
	for _, u := range esc.targets {
		for _, ch := range esc.channels {
			res.Intents = append(res.Intents, escalationIntent(*updated, u.ID, ch, esc.reason, level))
		}
	}

	if esc.reassign {
		assigned, err := e.lifecycle.Assign(ctx, lifecycle.AssignRequest{
			TaskID:          updated.ID,
			AssigneeID:      targetIDs[0],
			Actor:           model.SystemActor(updated.RestaurantID),
			ExpectedVersion: updated.Version,
		})
		if err != nil {
			// The escalation stays committed; only the handover failed.
			log.Printf("escalation: reassigning task %s to %s: %v", updated.ID, targetIDs[0], err)
		} else {
			res.Task = assigned.Task
			res.Reassigned = true
			res.Intents = append(res.Intents, assigned.Intents...)
		}
	}

	return res, nil
}

func escalationIntent(t model.Task, recipient string, ch model.Channel, reason string, level int) model.NotificationIntent {
	return model.NotificationIntent{
		RestaurantID: t.RestaurantID,
		Recipient:    recipient,
		TaskID:       t.ID,
		Type:         model.NotifyEscalation,
		Channel:      ch,
		Title:        fmt.Sprintf("Escalation (level %d)", level),
		Message:      fmt.Sprintf("%q needs attention: %s", t.Title, reason),
		Payload: map[string]any{
			"task_id":          t.ID,
			"priority":         string(t.Priority),
			"escalation_level": level,
			"reason":           reason,
		},
	}
}
