package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
)

type ruleRow struct {
	ID                   string `db:"id"`
	RestaurantID         string `db:"restaurant_id"`
	Position             int    `db:"position"`
	TaskType             string `db:"task_type"`
	Priority             string `db:"priority"`
	OverdueMinutes       int    `db:"overdue_minutes"`
	EscalateToRole       string `db:"escalate_to_role"`
	NotificationChannels string `db:"notification_channels"`
	AutoReassign         bool   `db:"auto_reassign"`
	MaxEscalations       int    `db:"max_escalations"`
}

// ReplaceEscalationRules swaps the restaurant's ordered rule list for rules.
// Slice order becomes evaluation order.
func (s *SQLStore) ReplaceEscalationRules(
	ctx context.Context,
	restaurantID string,
	rules []model.EscalationRule,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.q("DELETE FROM escalation_rules WHERE restaurant_id = ?"), restaurantID); err != nil {
		return fmt.Errorf("clearing escalation rules for %s: %w", restaurantID, err)
	}

	for i, r := range rules {
		if r.EscalateToRole == "" {
			return apperr.Validationf("escalation rule %d has no escalate_to_role", i)
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		channels, err := marshalJSON(r.NotificationChannels, "[]")
		if err != nil {
			return fmt.Errorf("marshaling channels for rule %s: %w", r.ID, err)
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO escalation_rules (
				id, restaurant_id, position, task_type, priority,
				overdue_minutes, escalate_to_role, notification_channels,
				auto_reassign, max_escalations
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			r.ID, restaurantID, i, r.TaskType, string(r.Priority),
			r.OverdueMinutes, string(r.EscalateToRole), channels,
			boolToInt(r.AutoReassign), r.MaxEscalations,
		)
		if err != nil {
			return fmt.Errorf("inserting escalation rule %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// GetEscalationRules returns a restaurant's rules in evaluation order.
func (s *SQLStore) GetEscalationRules(
	ctx context.Context,
	restaurantID string,
) ([]model.EscalationRule, error) {
	var rows []ruleRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT * FROM escalation_rules
		WHERE restaurant_id = ?
		ORDER BY position`), restaurantID)
	if err != nil {
		return nil, fmt.Errorf("querying escalation rules for %s: %w", restaurantID, err)
	}

	rules := make([]model.EscalationRule, 0, len(rows))
	for _, r := range rows {
		rule := model.EscalationRule{
			ID:             r.ID,
			RestaurantID:   r.RestaurantID,
			Position:       r.Position,
			TaskType:       r.TaskType,
			Priority:       model.Priority(r.Priority),
			OverdueMinutes: r.OverdueMinutes,
			EscalateToRole: model.Role(r.EscalateToRole),
			AutoReassign:   r.AutoReassign,
			MaxEscalations: r.MaxEscalations,
		}
		if err := json.Unmarshal([]byte(r.NotificationChannels), &rule.NotificationChannels); err != nil {
			return nil, fmt.Errorf("unmarshaling channels for rule %s: %w", r.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CreateEscalationRecord appends a row to a task's escalation history.
func (s *SQLStore) CreateEscalationRecord(ctx context.Context, rec model.EscalationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.timestamp()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO task_escalations (
			id, task_id, level, reason, escalated_by, rule_id, auto, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.TaskID, rec.Level, rec.Reason, rec.EscalatedBy,
		rec.RuleID, boolToInt(rec.Auto), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording escalation of task %s: %w", rec.TaskID, err)
	}
	return nil
}

// GetEscalationRecords returns a task's escalation history, oldest first.
func (s *SQLStore) GetEscalationRecords(
	ctx context.Context,
	taskID string,
) ([]model.EscalationRecord, error) {
	var recs []model.EscalationRecord
	err := s.db.SelectContext(ctx, &recs, s.q(`
		SELECT * FROM task_escalations
		WHERE task_id = ?
		ORDER BY level, created_at`), taskID)
	if err != nil {
		return nil, fmt.Errorf("querying escalations of task %s: %w", taskID, err)
	}
	return recs, nil
}
