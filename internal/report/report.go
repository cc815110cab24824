// Package report renders tasks and batch results for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/dependency"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
	"github.com/nhle/restaurant-ops/internal/ops"
	"github.com/nhle/restaurant-ops/internal/sweep"
)

const timeLayout = "2006-01-02 15:04 MST"

func field(label, value string) string {
	return LabelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + value
}

func panel(title string, lines []string) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		HeaderStyle.Render(title),
		PanelStyle.Render(strings.Join(lines, "\n")),
	)
}

func errorLines(errs []apperr.ItemError) []string {
	var lines []string
	for _, e := range errs {
		lines = append(lines, ErrorStyle.Render("✗ "+e.Error()))
	}
	return lines
}

// Task renders a single task.
func Task(t model.Task) string {
	lines := []string{
		field("id", t.ID),
		field("status", StatusStyle(t.Status).Render(string(t.Status))),
		field("priority", PriorityStyle(t.Priority).Render(string(t.Priority))),
		field("version", fmt.Sprint(t.Version)),
	}
	if t.AssignedTo != "" {
		lines = append(lines, field("assignee", t.AssignedTo))
	}
	if t.DueDate != nil {
		lines = append(lines, field("due", t.DueDate.Format(timeLayout)))
	}
	if len(t.Dependencies) > 0 {
		lines = append(lines, field("depends on", strings.Join(t.Dependencies, ", ")))
	}
	if t.EscalationLevel > 0 {
		lines = append(lines, field("escalation", fmt.Sprintf("level %d", t.EscalationLevel)))
	}
	if t.ActualDurationMinutes != nil {
		lines = append(lines, field("took", fmt.Sprintf("%d min", *t.ActualDurationMinutes)))
	}
	return panel(t.Title, lines)
}

// DependencyStatus renders how far a task's dependencies have progressed.
func DependencyStatus(st *dependency.TaskStatus) string {
	lines := []string{field("completed", fmt.Sprintf("%d/%d", st.Completed, st.Total))}
	if len(st.Unresolved) > 0 {
		lines = append(lines, field("waiting on", strings.Join(st.Unresolved, ", ")))
	}
	if len(st.Missing) > 0 {
		lines = append(lines, ErrorStyle.Render("missing: "+strings.Join(st.Missing, ", ")))
	}
	return panel("Dependencies of "+st.TaskID, lines)
}

// DispatchSummary is a one-line count of a dispatch.
func DispatchSummary(r *notify.DispatchResult) string {
	if r == nil {
		return "no notifications"
	}
	return fmt.Sprintf("sent %d, dropped %d, failed %d, scheduled %d, errors %d",
		r.Sent, r.Dropped, r.Failed, r.Scheduled, len(r.Errors))
}

// Dispatch renders a dispatch result.
func Dispatch(r *notify.DispatchResult) string {
	lines := []string{DispatchSummary(r)}
	for _, n := range r.Notifications {
		lines = append(lines, fmt.Sprintf("  %s %s → %s (%s)", n.Channel, n.Type, n.RecipientID, deliveryState(n)))
	}
	lines = append(lines, errorLines(r.Errors)...)
	return panel("Notifications", lines)
}

func deliveryState(n model.Notification) string {
	switch {
	case n.SentAt != nil:
		return "sent"
	case n.FailedAt != nil:
		return "failed: " + n.FailureReason
	default:
		return "scheduled " + n.ScheduledFor.Format(timeLayout)
	}
}

// EscalationSweepSummary is a one-line count of an escalation sweep.
func EscalationSweepSummary(r *ops.EscalationSweepReport) string {
	return fmt.Sprintf("escalated %d, skipped %d, errors %d; %s",
		len(r.Escalated), len(r.Skipped), len(r.Errors), DispatchSummary(r.Dispatch))
}

// EscalationSweep renders an escalation sweep.
func EscalationSweep(r *ops.EscalationSweepReport) string {
	lines := []string{EscalationSweepSummary(r)}
	for _, e := range r.Escalated {
		line := fmt.Sprintf("  ↑ %s level %d → %s", e.Task.ID, e.Level, strings.Join(e.Targets, ", "))
		if e.Reassigned {
			line += " (reassigned)"
		}
		lines = append(lines, line)
	}
	for _, s := range r.Skipped {
		lines = append(lines, MutedStyle.Render(fmt.Sprintf("  - %s: %s", s.TaskID, s.Reason)))
	}
	lines = append(lines, errorLines(r.Errors)...)
	return panel("Escalation sweep", lines)
}

// OverdueSummary is a one-line count of an overdue pass.
func OverdueSummary(r *ops.OverdueReport) string {
	return fmt.Sprintf("marked %d overdue, skipped %d, errors %d; %s",
		len(r.Marked), len(r.Skipped), len(r.Errors), DispatchSummary(r.Dispatch))
}

// ReconcileSummary is a one-line count of a reconcile pass.
func ReconcileSummary(r *ops.ReconcileReport) string {
	return fmt.Sprintf("checked %d blocked, unblocked %d, errors %d; %s",
		r.Checked, len(r.Unblocked), len(r.Errors), DispatchSummary(r.Dispatch))
}

// RetrySummary is a one-line count of a retry sweep.
func RetrySummary(r *notify.RetryResult) string {
	return fmt.Sprintf("retried %d, delivered %d, permanently failed %d, skipped %d, errors %d",
		r.Retried, r.Delivered, r.PermanentlyFailed, r.Skipped, len(r.Errors))
}

// Inbox renders a user's unread notifications.
func Inbox(items []model.Notification, unread int) string {
	lines := []string{field("unread", fmt.Sprint(unread))}
	for _, n := range items {
		lines = append(lines, fmt.Sprintf("  %s  %s  %s",
			MutedStyle.Render(n.ID), n.Title, LabelStyle.Render(n.CreatedAt.Format(timeLayout))))
	}
	return panel("Inbox", lines)
}

// Statuses renders the sweep runner's job table.
func Statuses(statuses []sweep.Status) string {
	var lines []string
	for _, st := range statuses {
		last := "never"
		if !st.LastRun.IsZero() {
			last = st.LastRun.Format(time.Kitchen)
		}
		line := fmt.Sprintf("%-12s %-8s runs %-4d last %s", st.Job, st.State, st.Runs, last)
		if st.Error != nil {
			line = ErrorStyle.Render(line + "  " + st.Error.Error())
		}
		lines = append(lines, line)
	}
	return panel("Sweeps", lines)
}
