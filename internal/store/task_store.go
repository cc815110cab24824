package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
)

// taskRow mirrors the tasks table for sqlx struct scanning.
type taskRow struct {
	ID                       string     `db:"id"`
	RestaurantID             string     `db:"restaurant_id"`
	Title                    string     `db:"title"`
	Description              string     `db:"description"`
	TaskType                 string     `db:"task_type"`
	Status                   string     `db:"status"`
	Priority                 string     `db:"priority"`
	DueDate                  *time.Time `db:"due_date"`
	ScheduledFor             *time.Time `db:"scheduled_for"`
	AssignedTo               string     `db:"assigned_to"`
	CreatedBy                string     `db:"created_by"`
	Version                  int        `db:"version"`
	EscalationLevel          int        `db:"escalation_level"`
	EstimatedDurationMinutes *int       `db:"estimated_duration_minutes"`
	ActualDurationMinutes    *int       `db:"actual_duration_minutes"`
	StartedAt                *time.Time `db:"started_at"`
	CompletedAt              *time.Time `db:"completed_at"`
	CancelledAt              *time.Time `db:"cancelled_at"`
	Metadata                 string     `db:"metadata"`
	CreatedAt                time.Time  `db:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at"`
}

func (r taskRow) toModel() (model.Task, error) {
	t := model.Task{
		ID:                       r.ID,
		RestaurantID:             r.RestaurantID,
		Title:                    r.Title,
		Description:              r.Description,
		TaskType:                 r.TaskType,
		Status:                   model.Status(r.Status),
		Priority:                 model.Priority(r.Priority),
		DueDate:                  r.DueDate,
		ScheduledFor:             r.ScheduledFor,
		AssignedTo:               r.AssignedTo,
		CreatedBy:                r.CreatedBy,
		Version:                  r.Version,
		EscalationLevel:          r.EscalationLevel,
		EstimatedDurationMinutes: r.EstimatedDurationMinutes,
		ActualDurationMinutes:    r.ActualDurationMinutes,
		StartedAt:                r.StartedAt,
		CompletedAt:              r.CompletedAt,
		CancelledAt:              r.CancelledAt,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &t.Metadata); err != nil {
			return model.Task{}, fmt.Errorf("unmarshaling metadata for task %s: %w", r.ID, err)
		}
	}
	return t, nil
}

// CreateTask inserts a new task and its dependency edges in one
// transaction. Generates a UUID if ID is empty and starts at version 1.
func (s *SQLStore) CreateTask(ctx context.Context, task *model.Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return apperr.Validationf("task title must not be empty")
	}
	if task.RestaurantID == "" {
		return apperr.Validationf("task restaurant_id must not be empty")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := s.timestamp()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Version = 1
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.Metadata == nil {
		task.Metadata = model.Metadata{}
	}

	metadata, err := marshalJSON(task.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshaling metadata for task %s: %w", task.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO tasks (
			id, restaurant_id, title, description, task_type,
			status, priority, due_date, scheduled_for,
			assigned_to, created_by, version, escalation_level,
			estimated_duration_minutes, actual_duration_minutes,
			started_at, completed_at, cancelled_at,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		task.ID, task.RestaurantID, task.Title, task.Description, task.TaskType,
		string(task.Status), string(task.Priority), utcPtr(task.DueDate), utcPtr(task.ScheduledFor),
		task.AssignedTo, task.CreatedBy, task.Version, task.EscalationLevel,
		task.EstimatedDurationMinutes, task.ActualDurationMinutes,
		utcPtr(task.StartedAt), utcPtr(task.CompletedAt), utcPtr(task.CancelledAt),
		metadata, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	if err := s.insertDependenciesTx(ctx, tx, task.ID, task.Dependencies); err != nil {
		return err
	}

	return tx.Commit()
}

// GetTaskByID retrieves a single task by ID, including its dependencies.
func (s *SQLStore) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT * FROM tasks WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	tasks, err := s.hydrate(ctx, []taskRow{row})
	if err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// GetTasksByIDs retrieves the tasks with the given IDs. Missing IDs are
// silently absent from the result.
func (s *SQLStore) GetTasksByIDs(ctx context.Context, ids []string) ([]model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT * FROM tasks WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, fmt.Errorf("building task id query: %w", err)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying tasks by id: %w", err)
	}
	return s.hydrate(ctx, rows)
}

// GetTasks retrieves tasks matching the filter.
func (s *SQLStore) GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query, args, err := buildTaskQuery("SELECT tasks.* FROM tasks", filter)
	if err != nil {
		return nil, err
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return s.hydrate(ctx, rows)
}

// UpdateTask writes the mutable fields of task if the stored version still
// equals expectedVersion. Dependencies are not touched; use SetDependencies.
func (s *SQLStore) UpdateTask(
	ctx context.Context,
	task model.Task,
	expectedVersion int,
) (*model.Task, error) {
	metadata, err := marshalJSON(task.Metadata, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata for task %s: %w", task.ID, err)
	}
	task.UpdatedAt = s.timestamp()

	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE tasks SET
			title = ?, description = ?, task_type = ?,
			status = ?, priority = ?, due_date = ?, scheduled_for = ?,
			assigned_to = ?, escalation_level = ?,
			estimated_duration_minutes = ?, actual_duration_minutes = ?,
			started_at = ?, completed_at = ?, cancelled_at = ?,
			metadata = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		task.Title, task.Description, task.TaskType,
		string(task.Status), string(task.Priority), utcPtr(task.DueDate), utcPtr(task.ScheduledFor),
		task.AssignedTo, task.EscalationLevel,
		task.EstimatedDurationMinutes, task.ActualDurationMinutes,
		utcPtr(task.StartedAt), utcPtr(task.CompletedAt), utcPtr(task.CancelledAt),
		metadata, task.UpdatedAt,
		task.ID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", task.ID, err)
	}

	if err := s.checkVersionedWrite(ctx, result, task.ID, expectedVersion); err != nil {
		return nil, err
	}

	task.Version = expectedVersion + 1
	return &task, nil
}

// checkVersionedWrite turns a zero-row conditional update into NotFound or
// ConcurrentModification.
func (s *SQLStore) checkVersionedWrite(
	ctx context.Context,
	result sql.Result,
	taskID string,
	expectedVersion int,
) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected for task %s: %w", taskID, err)
	}
	if rows > 0 {
		return nil
	}

	var current int
	err = s.db.GetContext(ctx, &current, s.q("SELECT version FROM tasks WHERE id = ?"), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("task %s", taskID)
	}
	if err != nil {
		return fmt.Errorf("reading version of task %s: %w", taskID, err)
	}
	return apperr.ConcurrentModificationf(
		"task %s: expected version %d, stored version %d",
		taskID, expectedVersion, current,
	)
}

// GetDependents returns the tasks in restaurantID that list taskID as a
// dependency.
func (s *SQLStore) GetDependents(
	ctx context.Context,
	restaurantID, taskID string,
	status *model.Status,
) ([]model.Task, error) {
	query := `
		SELECT tasks.* FROM tasks
		INNER JOIN task_dependencies d ON d.task_id = tasks.id
		WHERE d.depends_on_id = ? AND tasks.restaurant_id = ?`
	args := []any{taskID, restaurantID}
	if status != nil {
		query += " AND tasks.status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY tasks.created_at, tasks.id"

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying dependents of task %s: %w", taskID, err)
	}
	return s.hydrate(ctx, rows)
}

// SetDependencies replaces the dependency set of a task, bumping its
// version under the usual precondition.
func (s *SQLStore) SetDependencies(
	ctx context.Context,
	taskID string,
	deps []string,
	expectedVersion int,
) (*model.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		s.q("UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?"),
		s.timestamp(), taskID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", taskID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading rows affected for task %s: %w", taskID, err)
	}
	if rows == 0 {
		// Release the connection before the follow-up read.
		tx.Rollback()
		return nil, s.checkVersionedWrite(ctx, result, taskID, expectedVersion)
	}

	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM task_dependencies WHERE task_id = ?"), taskID); err != nil {
		return nil, fmt.Errorf("clearing dependencies of task %s: %w", taskID, err)
	}
	if err := s.insertDependenciesTx(ctx, tx, taskID, deps); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dependencies of task %s: %w", taskID, err)
	}

	return s.GetTaskByID(ctx, taskID)
}

func (s *SQLStore) insertDependenciesTx(
	ctx context.Context,
	tx *sqlx.Tx,
	taskID string,
	deps []string,
) error {
	for i, dep := range deps {
		_, err := tx.ExecContext(ctx,
			s.q("INSERT INTO task_dependencies (task_id, depends_on_id, position) VALUES (?, ?, ?)"),
			taskID, dep, i,
		)
		if err != nil {
			return fmt.Errorf("adding dependency %s -> %s: %w", taskID, dep, err)
		}
	}
	return nil
}

// hydrate converts rows to tasks and batch loads their dependency sets.
func (s *SQLStore) hydrate(ctx context.Context, rows []taskRow) ([]model.Task, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tasks := make([]model.Task, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		ids = append(ids, r.ID)
	}

	query, args, err := sqlx.In(`
		SELECT task_id, depends_on_id FROM task_dependencies
		WHERE task_id IN (?) ORDER BY task_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("building dependency query: %w", err)
	}

	var edges []struct {
		TaskID      string `db:"task_id"`
		DependsOnID string `db:"depends_on_id"`
	}
	if err := s.db.SelectContext(ctx, &edges, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("loading dependencies: %w", err)
	}

	byTask := make(map[string][]string, len(tasks))
	for _, e := range edges {
		byTask[e.TaskID] = append(byTask[e.TaskID], e.DependsOnID)
	}
	for i := range tasks {
		tasks[i].Dependencies = byTask[tasks[i].ID]
	}
	return tasks, nil
}

// buildTaskQuery constructs the SQL query and args for a TaskFilter.
func buildTaskQuery(selectClause string, filter TaskFilter) (string, []any, error) {
	if filter.RestaurantID == "" {
		return "", nil, apperr.Validationf("task filter requires a restaurant_id")
	}

	conditions := []string{"tasks.restaurant_id = ?"}
	args := []any{filter.RestaurantID}

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "tasks.status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.ExcludeStatuses) > 0 {
		conditions = append(conditions, "tasks.status NOT IN ("+placeholders(len(filter.ExcludeStatuses))+")")
		for _, st := range filter.ExcludeStatuses {
			args = append(args, string(st))
		}
	}
	if filter.AssignedTo != nil {
		conditions = append(conditions, "tasks.assigned_to = ?")
		args = append(args, *filter.AssignedTo)
	}
	if filter.TaskType != nil {
		conditions = append(conditions, "tasks.task_type = ?")
		args = append(args, *filter.TaskType)
	}
	if filter.HasDueDate {
		conditions = append(conditions, "tasks.due_date IS NOT NULL")
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "tasks.due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}
	if filter.After != nil {
		conditions = append(conditions, "(tasks.due_date > ? OR (tasks.due_date = ? AND tasks.id > ?))")
		at := filter.After.DueDate.UTC()
		args = append(args, at, at, filter.After.ID)
	}

	query := selectClause + " WHERE " + strings.Join(conditions, " AND ")

	// Sort.
	sortBy := "tasks.created_at"
	if filter.SortBy != "" {
		allowed := map[string]string{
			"created_at": "tasks.created_at",
			"updated_at": "tasks.updated_at",
			"due_date":   "tasks.due_date",
			"priority":   "tasks.priority",
			"title":      "tasks.title",
		}
		if col, ok := allowed[filter.SortBy]; ok {
			sortBy = col
		}
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, tasks.id ASC", sortBy, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return query, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
