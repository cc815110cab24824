package dependency

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// MaxDepth bounds how far Validate follows dependency chains.
const MaxDepth = 32

// Validate checks a proposed dependency set for taskID before it is
// persisted. taskID is empty for a task not created yet. It rejects
// duplicates, self references, unknown ids, ids from another restaurant,
// cycles and chains deeper than MaxDepth. It returns how many of deps are
// not completed yet, so the caller can decide whether the task starts
// blocked.
func (r *Resolver) Validate(ctx context.Context, restaurantID, taskID string, deps []string) (int, error) {
	if len(deps) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(deps))
	for _, id := range deps {
		if id == "" {
			return 0, apperr.Validationf("dependency id must not be empty")
		}
		if id == taskID {
			return 0, apperr.Validationf("task %s cannot depend on itself", taskID)
		}
		if seen[id] {
			return 0, apperr.Validationf("dependency %s listed twice", id)
		}
		seen[id] = true
	}

	direct, err := r.store.GetTasksByIDs(ctx, deps)
	if err != nil {
		return 0, fmt.Errorf("reading dependencies: %w", err)
	}
	w := &walker{
		ctx:   ctx,
		store: r.store,
		root:  taskID,
		tasks: make(map[string]*model.Task, len(direct)),
		done:  make(map[string]bool),
	}
	unresolved := 0
	for i := range direct {
		d := direct[i]
		if d.RestaurantID != restaurantID {
			return 0, apperr.Validationf("dependency %s belongs to another restaurant", d.ID)
		}
		if d.Status != model.StatusCompleted {
			unresolved++
		}
		w.tasks[d.ID] = &d
	}
	for _, id := range deps {
		if _, ok := w.tasks[id]; !ok {
			return 0, apperr.NotFoundf("dependency %s", id)
		}
	}

	label := taskID
	if label == "" {
		label = "(new task)"
	}
	for _, id := range deps {
		if err := w.visit(id, []string{label}); err != nil {
			return 0, err
		}
	}
	return unresolved, nil
}

// walker is a depth-first search over stored dependency edges, loading
// tasks on demand.
type walker struct {
	ctx   context.Context
	store store.Store
	root  string
	tasks map[string]*model.Task
	done  map[string]bool
}

func (w *walker) visit(id string, path []string) error {
	if w.root != "" && id == w.root {
		return apperr.Validationf("dependency cycle: %s", strings.Join(append(path, id), " -> "))
	}
	if w.done[id] {
		return nil
	}
	if len(path) > MaxDepth {
		return apperr.Validationf("dependency chain deeper than %d at %s", MaxDepth, id)
	}

	next, err := w.edges(id)
	if err != nil {
		return err
	}
	path = append(path[:len(path):len(path)], id)
	for _, n := range next {
		if err := w.visit(n, path); err != nil {
			return err
		}
	}
	w.done[id] = true
	return nil
}

// edges returns the stored dependencies of id. Dangling ids have none.
func (w *walker) edges(id string) ([]string, error) {
	if t, ok := w.tasks[id]; ok {
		return t.Dependencies, nil
	}
	t, err := w.store.GetTaskByID(w.ctx, id)
	if apperr.IsNotFound(err) {
		w.tasks[id] = &model.Task{ID: id}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walking dependency %s: %w", id, err)
	}
	w.tasks[id] = t
	return t.Dependencies, nil
}
