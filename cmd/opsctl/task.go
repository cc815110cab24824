package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/restaurant-ops/internal/escalation"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/ops"
	"github.com/nhle/restaurant-ops/internal/report"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and move tasks",
	}
	cmd.AddCommand(
		taskCreateCmd(),
		taskShowCmd(),
		taskTransitionCmd(),
		taskAssignCmd(),
		taskEscalateCmd(),
		taskDepsCmd(),
	)
	return cmd
}

func printTaskResult(res *ops.TaskResult) {
	fmt.Println(report.Task(res.Task))
	if len(res.Unblocked) > 0 {
		fmt.Printf("Unblocked: %v\n", res.Unblocked)
	}
	if res.Dispatch != nil && len(res.Dispatch.Notifications) > 0 {
		fmt.Println(report.Dispatch(res.Dispatch))
	}
}

func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := time.Now().Add(d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("due must be RFC 3339 or a duration from now: %w", err)
	}
	return &t, nil
}

func taskCreateCmd() *cobra.Command {
	var in ops.NewTask
	var priority, due string
	var estimate int

	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a task in the actor's restaurant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			in.Priority = model.Priority(priority)
			dueAt, err := parseDue(due)
			if err != nil {
				return err
			}
			in.DueDate = dueAt
			if cmd.Flags().Changed("estimate") {
				in.EstimatedDurationMinutes = &estimate
			}
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				res, err := a.svc.CreateTask(ctx, actor, in)
				if err != nil {
					return err
				}
				printTaskResult(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Description, "description", "", "details")
	cmd.Flags().StringVar(&in.TaskType, "type", "", "task type, e.g. cleaning or audit")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high, critical or urgent")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC 3339) or duration from now")
	cmd.Flags().StringVar(&in.AssignedTo, "assign", "", "assignee user id")
	cmd.Flags().StringSliceVar(&in.Dependencies, "depends-on", nil, "task ids this task waits on")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "estimated duration in minutes")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [task-id]",
		Short: "Show a task, its dependencies and escalation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				st, err := a.svc.DependencyStatus(ctx, actor, args[0])
				if err != nil {
					return err
				}
				t, err := a.store.GetTaskByID(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(report.Task(*t))
				if st.Total > 0 {
					fmt.Println(report.DependencyStatus(st))
				}
				history, err := a.svc.EscalationHistory(ctx, actor, args[0])
				if err != nil {
					return err
				}
				for _, h := range history {
					fmt.Printf("  level %d by %s at %s: %s\n", h.Level, h.EscalatedBy, h.CreatedAt.Format(time.RFC3339), h.Reason)
				}
				return nil
			})
		},
	}
}

func taskTransitionCmd() *cobra.Command {
	var version, duration int

	cmd := &cobra.Command{
		Use:   "transition [task-id] [status]",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				req := lifecycle.TransitionRequest{
					TaskID:          args[0],
					To:              model.Status(args[1]),
					Actor:           actor,
					ExpectedVersion: version,
				}
				if cmd.Flags().Changed("duration") {
					req.ActualDurationMinutes = &duration
				}
				res, err := a.svc.TransitionTask(ctx, req)
				if err != nil {
					return err
				}
				printTaskResult(res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version read by the caller")
	cmd.Flags().IntVar(&duration, "duration", 0, "actual duration in minutes when completing")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "assign [task-id] [user-id]",
		Short: "Hand a task to a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				res, err := a.svc.AssignTask(ctx, lifecycle.AssignRequest{
					TaskID:          args[0],
					AssigneeID:      args[1],
					Actor:           actor,
					ExpectedVersion: version,
				})
				if err != nil {
					return err
				}
				printTaskResult(res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version read by the caller")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func taskEscalateCmd() *cobra.Command {
	var req escalation.ManualRequest
	var role string

	cmd := &cobra.Command{
		Use:   "escalate [task-id]",
		Short: "Escalate a task by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskID = args[0]
			req.TargetRole = model.Role(role)
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				req.Actor = actor
				res, err := a.svc.EscalateManually(ctx, req)
				if err != nil {
					return err
				}
				fmt.Println(report.Task(res.Task))
				fmt.Println(report.Dispatch(res.Dispatch))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.TargetUserID, "to", "", "user to escalate to")
	cmd.Flags().StringVar(&role, "role", "", "role to escalate to")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "why the task is escalated")
	cmd.Flags().BoolVar(&req.Urgent, "urgent", false, "raise priority to urgent and push")
	cmd.Flags().IntVar(&req.ExpectedVersion, "version", 0, "version read by the caller")
	return cmd
}

func taskDepsCmd() *cobra.Command {
	var deps []string
	var version int

	cmd := &cobra.Command{
		Use:   "deps [task-id]",
		Short: "Replace the tasks a task waits on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				res, err := a.svc.SetDependencies(ctx, actor, args[0], deps, version)
				if err != nil {
					return err
				}
				printTaskResult(res)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "task ids, empty to clear")
	cmd.Flags().IntVar(&version, "version", 0, "version read by the caller")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
