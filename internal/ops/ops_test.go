package ops_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/escalation"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
	"github.com/nhle/restaurant-ops/internal/ops"
	"github.com/nhle/restaurant-ops/internal/store"
	"github.com/nhle/restaurant-ops/tests/testutil"
)

var (
	admin   = model.Actor{UserID: "u-admin", Role: model.RoleAdmin, RestaurantID: testutil.Restaurant}
	manager = model.Actor{UserID: "u-manager", Role: model.RoleManager, RestaurantID: testutil.Restaurant}
	cook    = model.Actor{UserID: "u-cook", Role: model.RoleStaff, RestaurantID: testutil.Restaurant}
	server  = model.Actor{UserID: "u-server", Role: model.RoleStaff, RestaurantID: testutil.Restaurant}
)

// recorder captures deliveries on the push channel.
type recorder struct {
	mu         sync.Mutex
	deliveries []notify.Delivery
}

func (r *recorder) Send(_ context.Context, d notify.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recorder) byType(typ model.NotificationType) []notify.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Delivery
	for _, d := range r.deliveries {
		if d.Notification.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

type env struct {
	svc   *ops.Service
	store *store.SQLStore
	clock *testutil.Clock
	push  *recorder
}

func setup(t *testing.T) env {
	t.Helper()

	s := testutil.NewTestStore(t)
	testutil.SeedUsers(t, s)
	clock := testutil.NewClock(testutil.Base)
	s.SetClock(clock.Now)
	svc := ops.New(s, clock.Now, ops.Options{
		Escalation: escalation.Options{BatchSize: 50, Workers: 2},
		Notify:     notify.Options{Workers: 2},
	})
	push := &recorder{}
	svc.Dispatcher().RegisterSender(model.ChannelPush, push)
	return env{svc: svc, store: s, clock: clock, push: push}
}

func (e env) create(t *testing.T, actor model.Actor, in ops.NewTask) model.Task {
	t.Helper()

	res, err := e.svc.CreateTask(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("CreateTask %q: %v", in.Title, err)
	}
	return res.Task
}

func TestCompletingDependencyUnblocksAndNotifies(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	a := e.create(t, manager, ops.NewTask{Title: "Defrost walk-in", AssignedTo: "u-server"})
	b := e.create(t, manager, ops.NewTask{Title: "Deep clean walk-in", AssignedTo: "u-cook", Dependencies: []string{a.ID}})

	if a.Status != model.StatusAssigned {
		t.Fatalf("expected A assigned, got %s", a.Status)
	}
	if b.Status != model.StatusBlocked {
		t.Fatalf("expected B blocked, got %s", b.Status)
	}

	started, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: a.ID, To: model.StatusInProgress, Actor: server, ExpectedVersion: a.Version,
	})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	done, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: a.ID, To: model.StatusCompleted, Actor: server, ExpectedVersion: started.Task.Version,
	})
	if err != nil {
		t.Fatalf("complete A: %v", err)
	}

	if done.Task.Version != started.Task.Version+1 {
		t.Errorf("expected A version to grow by one, got %d -> %d", started.Task.Version, done.Task.Version)
	}
	if len(done.Unblocked) != 1 || done.Unblocked[0] != b.ID {
		t.Fatalf("expected B unblocked, got %v", done.Unblocked)
	}
	if got := testutil.MustGetTask(t, e.store, b.ID).Status; got != model.StatusPending {
		t.Fatalf("expected B pending, got %s", got)
	}

	ready := e.push.byType(model.NotifyDependencyReady)
	if len(ready) != 1 || ready[0].Recipient.ID != "u-cook" {
		t.Fatalf("expected one dependency_ready push to u-cook, got %+v", ready)
	}
	if done.Dispatch.Sent == 0 {
		t.Errorf("expected completion notifications to be sent, got %+v", done.Dispatch)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	e := setup(t)
	existing := e.create(t, manager, ops.NewTask{Title: "Audit fridge temps"})

	tests := []struct {
		name  string
		actor model.Actor
		in    ops.NewTask
		check func(error) bool
	}{
		{"empty title", manager, ops.NewTask{Title: "  "}, apperr.IsValidation},
		{"bad priority", manager, ops.NewTask{Title: "x", Priority: "whenever"}, apperr.IsValidation},
		{"inactive assignee", manager, ops.NewTask{Title: "x", AssignedTo: "u-zz-retired"}, apperr.IsValidation},
		{"unknown assignee", manager, ops.NewTask{Title: "x", AssignedTo: "u-nobody"}, apperr.IsNotFound},
		{"unknown dependency", manager, ops.NewTask{Title: "x", Dependencies: []string{"t-missing"}}, apperr.IsNotFound},
		{"duplicate dependency", manager, ops.NewTask{Title: "x", Dependencies: []string{existing.ID, existing.ID}}, apperr.IsValidation},
		{"no scope", model.Actor{UserID: "u-cook"}, ops.NewTask{Title: "x"}, apperr.IsPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateTask(context.Background(), tt.actor, tt.in)
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestCreateTaskWithCompletedDependencyStartsPending(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	a := e.create(t, manager, ops.NewTask{Title: "Receive produce"})
	started, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: a.ID, To: model.StatusInProgress, Actor: manager, ExpectedVersion: a.Version,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: a.ID, To: model.StatusCompleted, Actor: manager, ExpectedVersion: started.Task.Version,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	b := e.create(t, manager, ops.NewTask{Title: "Put away produce", Dependencies: []string{a.ID}})
	if b.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
}

func TestSetDependencies(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	a := e.create(t, manager, ops.NewTask{Title: "Order gaskets"})
	b := e.create(t, manager, ops.NewTask{Title: "Replace oven gasket", Dependencies: []string{a.ID}})
	c := e.create(t, manager, ops.NewTask{Title: "Calibrate oven"})

	// a -> b would close the cycle b -> a.
	_, err := e.svc.SetDependencies(ctx, manager, a.ID, []string{b.ID}, a.Version)
	if !apperr.IsValidation(err) || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle rejection, got %v", err)
	}

	res, err := e.svc.SetDependencies(ctx, manager, c.ID, []string{a.ID}, c.Version)
	if err != nil {
		t.Fatalf("SetDependencies: %v", err)
	}
	if res.Task.Status != model.StatusBlocked {
		t.Errorf("expected c blocked, got %s", res.Task.Status)
	}

	res, err = e.svc.SetDependencies(ctx, manager, c.ID, nil, res.Task.Version)
	if err != nil {
		t.Fatalf("clearing dependencies: %v", err)
	}
	if res.Task.Status != model.StatusPending || len(res.Task.Dependencies) != 0 {
		t.Errorf("expected c pending with no deps, got %s %v", res.Task.Status, res.Task.Dependencies)
	}

	if _, err := e.svc.SetDependencies(ctx, cook, b.ID, nil, b.Version); !apperr.IsPermissionDenied(err) {
		t.Errorf("expected PermissionDenied for staff, got %v", err)
	}
	if _, err := e.svc.SetDependencies(ctx, manager, b.ID, nil, b.Version+5); !apperr.IsConcurrentModification(err) {
		t.Errorf("expected ConcurrentModification, got %v", err)
	}
}

func TestEscalationSweepDispatches(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	_, err := e.svc.ImportRules(ctx, manager, testutil.Restaurant, []model.EscalationRule{{
		Priority:             model.PriorityCritical,
		OverdueMinutes:       30,
		EscalateToRole:       model.RoleAdmin,
		NotificationChannels: []model.Channel{model.ChannelPush},
		MaxEscalations:       2,
	}})
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}

	due := testutil.Base.Add(-90 * time.Minute)
	task := e.create(t, manager, ops.NewTask{
		Title: "Walk-in cooler alarm", Priority: model.PriorityCritical, DueDate: &due, AssignedTo: "u-cook",
	})

	report, err := e.svc.RunEscalationSweep(ctx, testutil.Restaurant)
	if err != nil {
		t.Fatalf("RunEscalationSweep: %v", err)
	}
	if len(report.Escalated) != 1 || report.Escalated[0].Level != 1 {
		t.Fatalf("expected one level-1 escalation, got %+v", report.Escalated)
	}
	if report.Dispatch.Sent != 1 {
		t.Errorf("expected one escalation sent, got %+v", report.Dispatch)
	}
	pushed := e.push.byType(model.NotifyEscalation)
	if len(pushed) != 1 || pushed[0].Recipient.ID != "u-admin" {
		t.Fatalf("expected escalation push to u-admin, got %+v", pushed)
	}

	again, err := e.svc.RunEscalationSweep(ctx, testutil.Restaurant)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again.Escalated) != 0 {
		t.Fatalf("expected no re-escalation, got %+v", again.Escalated)
	}
	if got := testutil.MustGetTask(t, e.store, task.ID).EscalationLevel; got != 1 {
		t.Fatalf("expected level 1, got %d", got)
	}

	history, err := e.svc.EscalationHistory(ctx, manager, task.ID)
	if err != nil {
		t.Fatalf("EscalationHistory: %v", err)
	}
	if len(history) != 1 || !history[0].Auto {
		t.Fatalf("expected one automatic history row, got %+v", history)
	}
}

func TestImportRules(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	f, err := ops.ParseRuleFile(strings.NewReader(`
restaurant_id: r-downtown
rules:
  - task_type: cleaning
    overdue_minutes: 60
    escalate_to_role: manager
    notification_channels: [in_app, email]
  - priority: critical
    overdue_minutes: 30
    escalate_to_role: admin
    auto_reassign: true
    max_escalations: 2
`))
	if err != nil {
		t.Fatalf("ParseRuleFile: %v", err)
	}
	if f.RestaurantID != testutil.Restaurant || len(f.Rules) != 2 {
		t.Fatalf("unexpected rule file %+v", f)
	}

	stored, err := e.svc.ImportRules(ctx, admin, f.RestaurantID, f.Rules)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if len(stored) != 2 || stored[0].TaskType != "cleaning" || stored[1].Priority != model.PriorityCritical {
		t.Fatalf("rules out of order: %+v", stored)
	}
	if stored[0].MaxEscalations != 3 {
		t.Errorf("expected default cap 3, got %d", stored[0].MaxEscalations)
	}
	if !stored[1].AutoReassign || stored[1].MaxEscalations != 2 {
		t.Errorf("unexpected second rule %+v", stored[1])
	}

	if _, err := e.svc.ImportRules(ctx, cook, testutil.Restaurant, f.Rules); !apperr.IsPermissionDenied(err) {
		t.Errorf("expected PermissionDenied for staff, got %v", err)
	}
	bad := []model.EscalationRule{{OverdueMinutes: 10, EscalateToRole: "owner"}}
	if _, err := e.svc.ImportRules(ctx, admin, testutil.Restaurant, bad); !apperr.IsValidation(err) {
		t.Errorf("expected Validation for unknown role, got %v", err)
	}

	if _, err := ops.ParseRuleFile(strings.NewReader("rules:\n  - overdue_minuts: 5\n")); !apperr.IsValidation(err) {
		t.Errorf("expected Validation for unknown key, got %v", err)
	}
}

func TestMarkOverdueAndInbox(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	due := testutil.Base.Add(-10 * time.Minute)
	task := e.create(t, manager, ops.NewTask{Title: "Sanitize ice machine", DueDate: &due, AssignedTo: "u-cook"})

	report, err := e.svc.MarkOverdue(ctx, testutil.Restaurant)
	if err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	if len(report.Marked) != 1 || report.Marked[0] != task.ID {
		t.Fatalf("expected task marked overdue, got %+v", report.Marked)
	}
	if len(e.push.byType(model.NotifyTaskOverdue)) != 1 {
		t.Fatalf("expected one overdue push")
	}

	// The cook completes the task; the manager (creator) hears about it in-app.
	current := testutil.MustGetTask(t, e.store, task.ID)
	if _, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: task.ID, To: model.StatusCompleted, Actor: cook, ExpectedVersion: current.Version,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	items, count, err := e.svc.Inbox(ctx, manager, 10)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if count != 1 || len(items) != 1 || items[0].Type != model.NotifyTaskCompleted {
		t.Fatalf("expected one unread completion, got %d %+v", count, items)
	}
}

func TestDependencyStatusScope(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	a := e.create(t, manager, ops.NewTask{Title: "Order napkins"})
	b := e.create(t, manager, ops.NewTask{Title: "Fold napkins", Dependencies: []string{a.ID}})

	st, err := e.svc.DependencyStatus(ctx, server, b.ID)
	if err != nil {
		t.Fatalf("DependencyStatus: %v", err)
	}
	if st.Total != 1 || st.Completed != 0 || st.Satisfied() {
		t.Fatalf("unexpected status %+v", st)
	}

	outsider := model.Actor{UserID: "u-x", Role: model.RoleManager, RestaurantID: "r-uptown"}
	if _, err := e.svc.DependencyStatus(ctx, outsider, b.ID); !apperr.IsPermissionDenied(err) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestTransitionAndAssignRequireVersion(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	task := e.create(t, manager, ops.NewTask{Title: "Restock bar", AssignedTo: "u-cook"})

	if _, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: task.ID, To: model.StatusInProgress, Actor: cook,
	}); !apperr.IsValidation(err) {
		t.Fatalf("expected Validation for a missing version, got %v", err)
	}
	if _, err := e.svc.AssignTask(ctx, lifecycle.AssignRequest{
		TaskID: task.ID, AssigneeID: "u-server", Actor: manager,
	}); !apperr.IsValidation(err) {
		t.Fatalf("expected Validation for a missing version, got %v", err)
	}
	if got := testutil.MustGetTask(t, e.store, task.ID); got.Version != task.Version {
		t.Fatalf("rejected calls must not write, version %d -> %d", task.Version, got.Version)
	}

	// The assignee cannot park an overdue task in escalated by hand.
	if _, err := e.svc.TransitionTask(ctx, lifecycle.TransitionRequest{
		TaskID: task.ID, To: model.StatusEscalated, Actor: cook, ExpectedVersion: task.Version,
	}); !apperr.IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}
