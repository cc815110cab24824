package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
)

// UpsertUser inserts or replaces a user record.
func (s *SQLStore) UpsertUser(ctx context.Context, user model.User) error {
	if user.ID == "" || user.RestaurantID == "" {
		return apperr.Validationf("user requires id and restaurant_id")
	}
	if user.Role == "" {
		user.Role = model.RoleStaff
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, restaurant_id, name, email, phone, push_token, role, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			restaurant_id = excluded.restaurant_id,
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			push_token = excluded.push_token,
			role = excluded.role,
			active = excluded.active`),
		user.ID, user.RestaurantID, user.Name, user.Email, user.Phone,
		user.PushToken, string(user.Role), boolToInt(user.Active),
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", user.ID, err)
	}
	return nil
}

// GetUserByID retrieves a single user.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.q("SELECT * FROM users WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// GetUsersByRole returns the active users holding role in a restaurant,
// ordered by ID so callers get a stable "first" user.
func (s *SQLStore) GetUsersByRole(
	ctx context.Context,
	restaurantID string,
	role model.Role,
) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users, s.q(`
		SELECT * FROM users
		WHERE restaurant_id = ? AND role = ? AND active = 1
		ORDER BY id`), restaurantID, string(role))
	if err != nil {
		return nil, fmt.Errorf("querying %s users in %s: %w", role, restaurantID, err)
	}
	return users, nil
}

type preferencesRow struct {
	UserID            string `db:"user_id"`
	Channels          string `db:"channels"`
	Types             string `db:"notification_types"`
	QuietHoursEnabled bool   `db:"quiet_hours_enabled"`
	QuietStart        string `db:"quiet_start"`
	QuietEnd          string `db:"quiet_end"`
	Timezone          string `db:"timezone"`
	MaxPerHour        int    `db:"max_per_hour"`
	MaxPerDay         int    `db:"max_per_day"`
}

// GetPreferences returns the stored preferences for a user, or a NotFound
// error when none were saved.
func (s *SQLStore) GetPreferences(
	ctx context.Context,
	userID string,
) (*model.NotificationPreferences, error) {
	var row preferencesRow
	err := s.db.GetContext(ctx, &row,
		s.q("SELECT * FROM notification_preferences WHERE user_id = ?"), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("preferences for user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting preferences for user %s: %w", userID, err)
	}

	prefs := model.NotificationPreferences{
		UserID: row.UserID,
		QuietHours: model.QuietHours{
			Enabled: row.QuietHoursEnabled,
			Start:   row.QuietStart,
			End:     row.QuietEnd,
		},
		Caps: model.FrequencyCaps{
			MaxPerHour: row.MaxPerHour,
			MaxPerDay:  row.MaxPerDay,
		},
		Timezone: row.Timezone,
	}
	if err := json.Unmarshal([]byte(row.Channels), &prefs.Channels); err != nil {
		return nil, fmt.Errorf("unmarshaling channel preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Types), &prefs.Types); err != nil {
		return nil, fmt.Errorf("unmarshaling type preferences: %w", err)
	}
	return &prefs, nil
}

// SavePreferences inserts or replaces a user's preferences.
func (s *SQLStore) SavePreferences(ctx context.Context, prefs model.NotificationPreferences) error {
	channels, err := marshalJSON(prefs.Channels, "{}")
	if err != nil {
		return fmt.Errorf("marshaling channel preferences: %w", err)
	}
	types, err := marshalJSON(prefs.Types, "{}")
	if err != nil {
		return fmt.Errorf("marshaling type preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO notification_preferences (
			user_id, channels, notification_types,
			quiet_hours_enabled, quiet_start, quiet_end, timezone,
			max_per_hour, max_per_day
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			channels = excluded.channels,
			notification_types = excluded.notification_types,
			quiet_hours_enabled = excluded.quiet_hours_enabled,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			timezone = excluded.timezone,
			max_per_hour = excluded.max_per_hour,
			max_per_day = excluded.max_per_day`),
		prefs.UserID, channels, types,
		boolToInt(prefs.QuietHours.Enabled), prefs.QuietHours.Start, prefs.QuietHours.End,
		prefs.Timezone, prefs.Caps.MaxPerHour, prefs.Caps.MaxPerDay,
	)
	if err != nil {
		return fmt.Errorf("saving preferences for user %s: %w", prefs.UserID, err)
	}
	return nil
}
