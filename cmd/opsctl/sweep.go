package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/ops"
	"github.com/nhle/restaurant-ops/internal/report"
	"github.com/nhle/restaurant-ops/internal/sweep"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage escalation rules",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace a restaurant's escalation rules from a YAML file",
		Long: `Replace a restaurant's escalation rules from a YAML file.

Rules are evaluated top to bottom and the first match wins. Without a
file argument, escalation.rules_file from the config is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				path := a.cfg.Escalation.RulesFile
				if len(args) == 1 {
					path = args[0]
				}
				if path == "" {
					return fmt.Errorf("no rule file given and escalation.rules_file is unset")
				}
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}

				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening rule file: %w", err)
				}
				defer f.Close()
				rf, err := ops.ParseRuleFile(f)
				if err != nil {
					return err
				}
				restaurant := rf.RestaurantID
				if restaurant == "" {
					restaurant = actor.RestaurantID
				}

				rules, err := a.svc.ImportRules(ctx, actor, restaurant, rf.Rules)
				if err != nil {
					return err
				}
				printRules(restaurant, rules)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the actor's restaurant rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				rules, err := a.store.GetEscalationRules(ctx, actor.RestaurantID)
				if err != nil {
					return err
				}
				printRules(actor.RestaurantID, rules)
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, list)
	return cmd
}

func printRules(restaurant string, rules []model.EscalationRule) {
	fmt.Printf("%d rules for %s\n", len(rules), restaurant)
	for i, r := range rules {
		match := "any task"
		if r.TaskType != "" || r.Priority != "" {
			match = fmt.Sprintf("type=%q priority=%q", r.TaskType, r.Priority)
		}
		fmt.Printf("  %d. %s after %dm → %s via %v (max %d, reassign %t)\n",
			i+1, match, r.OverdueMinutes, r.EscalateToRole, r.NotificationChannels, r.MaxEscalations, r.AutoReassign)
	}
}

// jobs builds the sweep jobs for one restaurant. Each returns a summary
// line for the runner.
func jobs(svc *ops.Service, restaurant string, cfg model.SweepConfig) []sweep.Job {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return []sweep.Job{
		{
			Name:     "overdue:" + restaurant,
			Interval: sec(cfg.OverdueIntervalSec),
			Run: func(ctx context.Context) (string, error) {
				r, err := svc.MarkOverdue(ctx, restaurant)
				if err != nil {
					return "", err
				}
				return report.OverdueSummary(r), nil
			},
		},
		{
			Name:     "escalations:" + restaurant,
			Interval: sec(cfg.EscalationIntervalSec),
			Run: func(ctx context.Context) (string, error) {
				r, err := svc.RunEscalationSweep(ctx, restaurant)
				if err != nil {
					return "", err
				}
				return report.EscalationSweepSummary(r), nil
			},
		},
		{
			Name:     "retries:" + restaurant,
			Interval: sec(cfg.RetryIntervalSec),
			Run: func(ctx context.Context) (string, error) {
				r, err := svc.RunNotificationRetrySweep(ctx, restaurant)
				if err != nil {
					return "", err
				}
				return report.RetrySummary(r), nil
			},
		},
		{
			Name:     "reconcile:" + restaurant,
			Interval: sec(cfg.EscalationIntervalSec),
			Run: func(ctx context.Context) (string, error) {
				r, err := svc.Reconcile(ctx, restaurant)
				if err != nil {
					return "", err
				}
				return report.ReconcileSummary(r), nil
			},
		},
	}
}

func sweepCmd() *cobra.Command {
	var restaurant string

	run := func(name string, fn func(ctx context.Context, a *app) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Run one " + name + " pass",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(fn)
			},
		}
	}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one batch pass over a restaurant",
	}
	cmd.PersistentFlags().StringVar(&restaurant, "restaurant", "", "restaurant id")
	_ = cmd.MarkPersistentFlagRequired("restaurant")

	cmd.AddCommand(
		run("escalations", func(ctx context.Context, a *app) error {
			r, err := a.svc.RunEscalationSweep(ctx, restaurant)
			if err != nil {
				return err
			}
			fmt.Println(report.EscalationSweep(r))
			return nil
		}),
		run("overdue", func(ctx context.Context, a *app) error {
			r, err := a.svc.MarkOverdue(ctx, restaurant)
			if err != nil {
				return err
			}
			fmt.Println(report.OverdueSummary(r))
			return nil
		}),
		run("retries", func(ctx context.Context, a *app) error {
			r, err := a.svc.RunNotificationRetrySweep(ctx, restaurant)
			if err != nil {
				return err
			}
			fmt.Println(report.RetrySummary(r))
			return nil
		}),
		run("reconcile", func(ctx context.Context, a *app) error {
			r, err := a.svc.Reconcile(ctx, restaurant)
			if err != nil {
				return err
			}
			fmt.Println(report.ReconcileSummary(r))
			return nil
		}),
	)
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every sweep on its configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if len(a.cfg.Sweep.Restaurants) == 0 {
					return fmt.Errorf("sweep.restaurants is empty")
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				runner := sweep.New(nil)
				for _, r := range a.cfg.Sweep.Restaurants {
					for _, j := range jobs(a.svc, r, a.cfg.Sweep) {
						runner.Register(j)
					}
				}
				runner.Start(ctx)
				defer runner.Stop()

				for {
					select {
					case <-ctx.Done():
						fmt.Println(report.Statuses(runner.Statuses()))
						return nil
					case res := <-runner.Results():
						if res.Error != nil {
							fmt.Printf("%s %s: %v\n", res.Finished.Format(time.Kitchen), res.Job, res.Error)
							continue
						}
						fmt.Printf("%s %s: %s\n", res.Finished.Format(time.Kitchen), res.Job, res.Summary)
					}
				}
			})
		},
	}
}
