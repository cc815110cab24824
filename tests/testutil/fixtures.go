package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Restaurant is the scope used by fixtures.
const Restaurant = "r-downtown"

// Base is a fixed reference time (a Tuesday, 12:00 UTC).
var Base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// SeedUsers inserts the standard cast: one admin, one manager, two staff
// members and one inactive admin.
func SeedUsers(t *testing.T, s store.Store) {
	t.Helper()

	users := []model.User{
		{ID: "u-admin", Name: "Ada Admin", Email: "ada@example.com", Role: model.RoleAdmin, Active: true},
		{ID: "u-manager", Name: "Max Manager", Email: "max@example.com", Role: model.RoleManager, Active: true},
		{ID: "u-cook", Name: "Cleo Cook", Email: "cleo@example.com", Phone: "+15550001", Role: model.RoleStaff, Active: true},
		{ID: "u-server", Name: "Sam Server", Email: "sam@example.com", Role: model.RoleStaff, Active: true},
		{ID: "u-zz-retired", Name: "Old Admin", Role: model.RoleAdmin, Active: false},
	}
	for _, u := range users {
		u.RestaurantID = Restaurant
		if err := s.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("seeding user %s: %v", u.ID, err)
		}
	}
}

// CreateTask persists task with fixture defaults filled in and returns it.
func CreateTask(t *testing.T, s store.Store, task model.Task) model.Task {
	t.Helper()

	if task.RestaurantID == "" {
		task.RestaurantID = Restaurant
	}
	if task.Title == "" {
		task.Title = "Wipe down prep station"
	}
	if task.CreatedBy == "" {
		task.CreatedBy = "u-manager"
	}
	if err := s.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("creating task: %v", err)
	}
	return task
}

// MustGetTask reloads a task or fails the test.
func MustGetTask(t *testing.T, s store.Store, id string) model.Task {
	t.Helper()

	task, err := s.GetTaskByID(context.Background(), id)
	if err != nil {
		t.Fatalf("getting task %s: %v", id, err)
	}
	return *task
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
