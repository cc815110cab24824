package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
	"github.com/nhle/restaurant-ops/tests/testutil"
)

func TestMigrationsApplied(t *testing.T) {
	s := testutil.NewTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != 4 {
		t.Fatalf("expected schema version 4, got %d", v)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	dep := testutil.CreateTask(t, s, model.Task{Title: "Defrost walk-in"})
	due := testutil.Base.Add(2 * time.Hour)
	task := testutil.CreateTask(t, s, model.Task{
		Title:        "Deep clean walk-in",
		TaskType:     "cleaning",
		Priority:     model.PriorityHigh,
		DueDate:      &due,
		AssignedTo:   "u-cook",
		Dependencies: []string{dep.ID},
		Metadata:     model.Metadata{"station": "cold"},
	})

	if task.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", task.Version)
	}

	got, err := s.GetTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTaskByID failed: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("expected default status pending, got %s", got.Status)
	}
	if got.Priority != model.PriorityHigh {
		t.Errorf("expected priority high, got %s", got.Priority)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("expected due date %v, got %v", due, got.DueDate)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != dep.ID {
		t.Errorf("expected dependencies [%s], got %v", dep.ID, got.Dependencies)
	}
	if got.Metadata["station"] != "cold" {
		t.Errorf("expected metadata to round trip, got %v", got.Metadata)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.CreateTask(context.Background(), &model.Task{RestaurantID: testutil.Restaurant})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetTaskByIDNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetTaskByID(context.Background(), "missing")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskVersionCheck(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	task := testutil.CreateTask(t, s, model.Task{})
	task.Status = model.StatusAssigned
	task.AssignedTo = "u-cook"

	updated, err := s.UpdateTask(ctx, task, 1)
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	// A second writer still holding version 1 must lose.
	task.Status = model.StatusCancelled
	_, err = s.UpdateTask(ctx, task, 1)
	if !apperr.IsConcurrentModification(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}

	stored := testutil.MustGetTask(t, s, task.ID)
	if stored.Status != model.StatusAssigned || stored.Version != 2 {
		t.Fatalf("stale write leaked: status=%s version=%d", stored.Status, stored.Version)
	}

	task.ID = "missing"
	if _, err := s.UpdateTask(ctx, task, 1); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found for missing task, got %v", err)
	}
}

func TestGetTasksFilter(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	due := testutil.Base
	testutil.CreateTask(t, s, model.Task{Title: "a", Status: model.StatusPending, DueDate: &due})
	testutil.CreateTask(t, s, model.Task{Title: "b", Status: model.StatusCompleted, DueDate: &due})
	testutil.CreateTask(t, s, model.Task{Title: "c", Status: model.StatusEscalated})
	testutil.CreateTask(t, s, model.Task{Title: "d", RestaurantID: "r-other", DueDate: &due})

	tasks, err := s.GetTasks(ctx, store.TaskFilter{
		RestaurantID:    testutil.Restaurant,
		ExcludeStatuses: []model.Status{model.StatusCompleted, model.StatusCancelled},
		HasDueDate:      true,
	})
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "a" {
		t.Fatalf("expected only task a, got %+v", tasks)
	}

	if _, err := s.GetTasks(ctx, store.TaskFilter{}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error without restaurant, got %v", err)
	}
}

func TestGetTasksDueWindowAndCursor(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	early := testutil.Base.Add(-2 * time.Hour)
	late := testutil.Base.Add(-time.Hour)
	future := testutil.Base.Add(time.Hour)
	a := testutil.CreateTask(t, s, model.Task{Title: "a", DueDate: &early})
	b := testutil.CreateTask(t, s, model.Task{Title: "b", DueDate: &early})
	c := testutil.CreateTask(t, s, model.Task{Title: "c", DueDate: &late})
	testutil.CreateTask(t, s, model.Task{Title: "d", DueDate: &future})

	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}

	filter := store.TaskFilter{
		RestaurantID: testutil.Restaurant,
		HasDueDate:   true,
		DueBefore:    &testutil.Base,
		SortBy:       "due_date",
		Limit:        1,
	}
	var seen []string
	for {
		page, err := s.GetTasks(ctx, filter)
		if err != nil {
			t.Fatalf("GetTasks failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		last := page[len(page)-1]
		seen = append(seen, last.ID)
		filter.After = &store.DueCursor{DueDate: *last.DueDate, ID: last.ID}
	}

	want := []string{first.ID, second.ID, c.ID}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestGetDependents(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	a := testutil.CreateTask(t, s, model.Task{Title: "a"})
	b := testutil.CreateTask(t, s, model.Task{Title: "b", Status: model.StatusBlocked, Dependencies: []string{a.ID}})
	testutil.CreateTask(t, s, model.Task{Title: "c", Status: model.StatusPending, Dependencies: []string{a.ID}})

	blocked := model.StatusBlocked
	deps, err := s.GetDependents(ctx, testutil.Restaurant, a.ID, &blocked)
	if err != nil {
		t.Fatalf("GetDependents failed: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != b.ID {
		t.Fatalf("expected only blocked dependent b, got %+v", deps)
	}

	all, err := s.GetDependents(ctx, testutil.Restaurant, a.ID, nil)
	if err != nil {
		t.Fatalf("GetDependents failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 dependents, got %d", len(all))
	}
}

func TestSetDependencies(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	a := testutil.CreateTask(t, s, model.Task{Title: "a"})
	b := testutil.CreateTask(t, s, model.Task{Title: "b"})
	c := testutil.CreateTask(t, s, model.Task{Title: "c", Dependencies: []string{a.ID}})

	updated, err := s.SetDependencies(ctx, c.ID, []string{b.ID, a.ID}, c.Version)
	if err != nil {
		t.Fatalf("SetDependencies failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if len(updated.Dependencies) != 2 || updated.Dependencies[0] != b.ID {
		t.Errorf("expected ordered dependencies [b a], got %v", updated.Dependencies)
	}

	if _, err := s.SetDependencies(ctx, c.ID, nil, 1); !apperr.IsConcurrentModification(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
}

func TestUsersByRoleSkipsInactive(t *testing.T) {
	s := testutil.NewTestStore(t)
	testutil.SeedUsers(t, s)

	admins, err := s.GetUsersByRole(context.Background(), testutil.Restaurant, model.RoleAdmin)
	if err != nil {
		t.Fatalf("GetUsersByRole failed: %v", err)
	}
	if len(admins) != 1 || admins[0].ID != "u-admin" {
		t.Fatalf("expected only active admin, got %+v", admins)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	if _, err := s.GetPreferences(ctx, "u-cook"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found before save, got %v", err)
	}

	prefs := model.DefaultPreferences("u-cook")
	prefs.Channels[model.ChannelSMS] = false
	prefs.QuietHours = model.QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	prefs.Timezone = "America/Chicago"
	if err := s.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	got, err := s.GetPreferences(ctx, "u-cook")
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if got.ChannelEnabled(model.ChannelSMS) {
		t.Error("expected sms disabled")
	}
	if !got.QuietHours.Enabled || got.QuietHours.Start != "22:00" {
		t.Errorf("unexpected quiet hours %+v", got.QuietHours)
	}
	if got.Timezone != "America/Chicago" {
		t.Errorf("unexpected timezone %q", got.Timezone)
	}
}

func TestEscalationRulesKeepOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	rules := []model.EscalationRule{
		{ID: "r2", Priority: model.PriorityCritical, OverdueMinutes: 30, EscalateToRole: model.RoleAdmin, MaxEscalations: 2,
			NotificationChannels: []model.Channel{model.ChannelPush, model.ChannelEmail}},
		{ID: "r1", OverdueMinutes: 120, EscalateToRole: model.RoleManager, MaxEscalations: 1, AutoReassign: true},
	}
	if err := s.ReplaceEscalationRules(ctx, testutil.Restaurant, rules); err != nil {
		t.Fatalf("ReplaceEscalationRules failed: %v", err)
	}

	got, err := s.GetEscalationRules(ctx, testutil.Restaurant)
	if err != nil {
		t.Fatalf("GetEscalationRules failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].ID != "r1" {
		t.Fatalf("expected input order preserved, got %+v", got)
	}
	if len(got[0].NotificationChannels) != 2 || !got[1].AutoReassign {
		t.Fatalf("rule fields did not round trip: %+v", got)
	}

	err = s.ReplaceEscalationRules(ctx, testutil.Restaurant, []model.EscalationRule{{OverdueMinutes: 5}})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for rule without role, got %v", err)
	}
	// The failed replace must not have wiped the previous rules.
	got, _ = s.GetEscalationRules(ctx, testutil.Restaurant)
	if len(got) != 2 {
		t.Fatalf("expected rules untouched after failed replace, got %d", len(got))
	}
}

func TestNotificationDeliveryAndReadState(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	n := &model.Notification{
		RestaurantID: testutil.Restaurant,
		RecipientID:  "u-cook",
		Type:         model.NotifyTaskAssigned,
		Channel:      model.ChannelEmail,
		Title:        "New task",
		ScheduledFor: testutil.Base,
	}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	unsent, err := s.GetNotifications(ctx, store.NotificationFilter{
		RestaurantID: testutil.Restaurant, Unsent: true, MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("GetNotifications failed: %v", err)
	}
	if len(unsent) != 1 {
		t.Fatalf("expected 1 unsent notification, got %d", len(unsent))
	}

	failedAt := testutil.Base
	n.FailedAt = &failedAt
	n.FailureReason = "smtp timeout"
	n.RetryCount = 1
	if err := s.UpdateNotificationDelivery(ctx, *n, 0); err != nil {
		t.Fatalf("UpdateNotificationDelivery failed: %v", err)
	}
	if err := s.UpdateNotificationDelivery(ctx, *n, 0); !apperr.IsConcurrentModification(err) {
		t.Fatalf("expected concurrent modification on stale retry count, got %v", err)
	}

	clicked := testutil.Base.Add(time.Minute)
	if err := s.MarkNotificationClicked(ctx, n.ID, clicked); err != nil {
		t.Fatalf("MarkNotificationClicked failed: %v", err)
	}
	got, err := s.GetNotificationByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNotificationByID failed: %v", err)
	}
	if got.ClickedAt == nil || got.ReadAt == nil || !got.ReadAt.Equal(clicked) {
		t.Fatalf("expected click to imply read, got clicked=%v read=%v", got.ClickedAt, got.ReadAt)
	}
	if got.RetryCount != 1 || got.FailureReason != "smtp timeout" {
		t.Fatalf("delivery state not stored: %+v", got)
	}

	if err := s.MarkNotificationUnread(ctx, n.ID); err != nil {
		t.Fatalf("MarkNotificationUnread failed: %v", err)
	}
	got, _ = s.GetNotificationByID(ctx, n.ID)
	if got.ReadAt != nil {
		t.Fatalf("expected read_at cleared, got %v", got.ReadAt)
	}

	if err := s.MarkNotificationRead(ctx, "missing", clicked); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
