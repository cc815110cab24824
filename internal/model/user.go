package model

// Role is a staff role within a restaurant.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"

	// RoleSystem is held only by the engine itself (dependency unblocking,
	// automatic escalation). It has manager scope in every restaurant.
	RoleSystem Role = "system"
)

// User is a staff member who can be assigned tasks and receive
// notifications.
type User struct {
	ID           string `json:"id" db:"id"`
	RestaurantID string `json:"restaurant_id" db:"restaurant_id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	Phone        string `json:"phone" db:"phone"`
	PushToken    string `json:"push_token" db:"push_token"`
	Role         Role   `json:"role" db:"role"`
	Active       bool   `json:"active" db:"active"`
}

// Actor is the identity fact supplied by the caller: who is acting, with
// which role, inside which restaurant.
type Actor struct {
	UserID       string
	Role         Role
	RestaurantID string
}

// SystemActor returns the actor used for engine-initiated writes.
func SystemActor(restaurantID string) Actor {
	return Actor{UserID: "system", Role: RoleSystem, RestaurantID: restaurantID}
}

// HasManagerScope reports whether the actor may act on any task in the
// given restaurant.
func (a Actor) HasManagerScope(restaurantID string) bool {
	switch a.Role {
	case RoleSystem:
		return true
	case RoleAdmin, RoleManager:
		return a.RestaurantID == restaurantID
	}
	return false
}

// CanActOn reports whether the actor is the assignee, the creator, or
// holds manager scope for the task.
func (a Actor) CanActOn(t Task) bool {
	if a.HasManagerScope(t.RestaurantID) {
		return true
	}
	if a.UserID == "" || a.RestaurantID != t.RestaurantID {
		return false
	}
	return a.UserID == t.AssignedTo || a.UserID == t.CreatedBy
}
