package model_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhle/restaurant-ops/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := model.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Escalation.BatchSize != 100 || cfg.Escalation.DefaultMaxEscalations != 3 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Notifications.MaxRetries != model.MaxDeliveryAttempts || cfg.Sweep.RetryIntervalSec != 120 {
		t.Errorf("unexpected notification/sweep defaults %+v %+v", cfg.Notifications, cfg.Sweep)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  driver: postgres
  dsn: postgres://ops@localhost/ops?sslmode=disable
notifications:
  max_retries: 9
  email:
    host: smtp.example.com
sweep:
  restaurants: [r-downtown, r-uptown]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPS_AUTH_JWT_SECRET", "from-env")

	cfg, err := model.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Notifications.Email.Host != "smtp.example.com" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Notifications.Email.Port != 587 {
		t.Errorf("expected default smtp port, got %d", cfg.Notifications.Email.Port)
	}
	if cfg.Notifications.MaxRetries != model.MaxDeliveryAttempts {
		t.Errorf("expected max_retries clamped to %d, got %d", model.MaxDeliveryAttempts, cfg.Notifications.MaxRetries)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env override, got %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Sweep.Restaurants) != 2 {
		t.Errorf("unexpected restaurants %v", cfg.Sweep.Restaurants)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := model.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Escalation.Workers = 7
	cfg.Sweep.Restaurants = []string{"r-harbor"}

	if err := model.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := model.LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if got.Escalation.Workers != 7 || len(got.Sweep.Restaurants) != 1 || got.Sweep.Restaurants[0] != "r-harbor" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}

func TestTaskOverdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	due := now.Add(-90*time.Minute - 30*time.Second)

	task := model.Task{Status: model.StatusInProgress, DueDate: &due}
	if !task.IsOverdue(now) || task.OverdueMinutes(now) != 90 {
		t.Errorf("expected 90 minutes overdue, got %v %d", task.IsOverdue(now), task.OverdueMinutes(now))
	}

	task.Status = model.StatusCompleted
	if task.IsOverdue(now) {
		t.Error("completed tasks are never overdue")
	}

	future := now.Add(time.Hour)
	if (model.Task{DueDate: &future}).OverdueMinutes(now) != 0 {
		t.Error("expected 0 minutes before the due date")
	}
}

func TestEscalationMetadata(t *testing.T) {
	md := model.Metadata{"station": "grill"}
	if got := md.Escalation(); got.EscalationLevel != 0 {
		t.Fatalf("expected zero value, got %+v", got)
	}

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	md.SetEscalation(model.EscalationMetadata{
		EscalationLevel: 2, Reason: "cooler alarm", EscalatedBy: "system",
		EscalatedAt: &at, AutoEscalated: true, Targets: []string{"u-admin"},
	})

	got := md.Escalation()
	if got.EscalationLevel != 2 || !got.AutoEscalated || got.EscalatedAt == nil || !got.EscalatedAt.Equal(at) {
		t.Fatalf("unexpected round trip %+v", got)
	}

	clone := md.Clone()
	clone["station"] = "fryer"
	if md["station"] != "grill" {
		t.Error("Clone must not alias the original map")
	}
}

func TestActorScope(t *testing.T) {
	task := model.Task{RestaurantID: "r-1", AssignedTo: "u-cook", CreatedBy: "u-manager"}

	tests := []struct {
		name  string
		actor model.Actor
		want  bool
	}{
		{"assignee", model.Actor{UserID: "u-cook", Role: model.RoleStaff, RestaurantID: "r-1"}, true},
		{"creator", model.Actor{UserID: "u-manager", Role: model.RoleStaff, RestaurantID: "r-1"}, true},
		{"other staff", model.Actor{UserID: "u-server", Role: model.RoleStaff, RestaurantID: "r-1"}, false},
		{"manager", model.Actor{UserID: "u-boss", Role: model.RoleManager, RestaurantID: "r-1"}, true},
		{"manager elsewhere", model.Actor{UserID: "u-boss", Role: model.RoleManager, RestaurantID: "r-2"}, false},
		{"assignee elsewhere", model.Actor{UserID: "u-cook", Role: model.RoleStaff, RestaurantID: "r-2"}, false},
		{"system", model.SystemActor("r-2"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.CanActOn(task); got != tt.want {
				t.Errorf("CanActOn = %v, want %v", got, tt.want)
			}
		})
	}
}
