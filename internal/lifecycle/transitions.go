package lifecycle

import "github.com/nhle/restaurant-ops/internal/model"

// allowedTransitions lists, for each status, the statuses reachable from it.
// Terminal statuses have no entry.
var allowedTransitions = map[model.Status]map[model.Status]struct{}{
	model.StatusPending: {
		model.StatusAssigned:   {},
		model.StatusInProgress: {},
		model.StatusBlocked:    {},
		model.StatusOverdue:    {},
		model.StatusEscalated:  {},
		model.StatusCancelled:  {},
	},
	model.StatusAssigned: {
		model.StatusPending:    {}, // Unassign.
		model.StatusInProgress: {},
		model.StatusBlocked:    {},
		model.StatusOverdue:    {},
		model.StatusEscalated:  {},
		model.StatusCancelled:  {},
	},
	model.StatusInProgress: {
		model.StatusAssigned:  {}, // Paused, back in the assignee's queue.
		model.StatusCompleted: {},
		model.StatusBlocked:   {},
		model.StatusOverdue:   {},
		model.StatusEscalated: {},
		model.StatusCancelled: {},
	},
	model.StatusBlocked: {
		model.StatusPending:   {},
		model.StatusEscalated: {},
		model.StatusCancelled: {},
	},
	model.StatusOverdue: {
		model.StatusAssigned:   {},
		model.StatusInProgress: {},
		model.StatusCompleted:  {},
		model.StatusEscalated:  {},
		model.StatusCancelled:  {},
	},
	model.StatusEscalated: {
		model.StatusPending:    {},
		model.StatusAssigned:   {},
		model.StatusInProgress: {},
		model.StatusCompleted:  {},
		model.StatusCancelled:  {},
	},
}

// CanTransition reports whether a task in status from may move to status to.
func CanTransition(from, to model.Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Targets returns the statuses reachable from from, in a stable order.
func Targets(from model.Status) []model.Status {
	order := []model.Status{
		model.StatusPending, model.StatusAssigned, model.StatusInProgress,
		model.StatusCompleted, model.StatusBlocked, model.StatusOverdue,
		model.StatusEscalated, model.StatusCancelled,
	}
	var out []model.Status
	for _, to := range order {
		if CanTransition(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// intentTypeFor picks the notification type announcing a move into to.
func intentTypeFor(to model.Status) model.NotificationType {
	switch to {
	case model.StatusCompleted:
		return model.NotifyTaskCompleted
	case model.StatusAssigned:
		return model.NotifyTaskAssigned
	case model.StatusOverdue:
		return model.NotifyTaskOverdue
	default:
		return model.NotifyWorkflowTrigger
	}
}
