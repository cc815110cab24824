package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/restaurant-ops/internal/credential"
	"github.com/nhle/restaurant-ops/internal/identity"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/report"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration (defaults plus overrides) to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := model.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", configPath)
			return nil
		},
	})
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				v, err := a.store.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Schema at version %d (%s)\n", v, a.cfg.Database.Driver)
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	var u model.User
	var inactive bool
	var role string

	upsert := &cobra.Command{
		Use:   "upsert [id]",
		Short: "Create or update a staff member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u.ID = args[0]
			u.Role = model.Role(role)
			u.Active = !inactive
			switch u.Role {
			case model.RoleAdmin, model.RoleManager, model.RoleStaff:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.store.UpsertUser(ctx, u); err != nil {
					return err
				}
				fmt.Printf("Saved %s (%s) in %s\n", u.ID, u.Role, u.RestaurantID)
				return nil
			})
		},
	}
	upsert.Flags().StringVar(&u.RestaurantID, "restaurant", "", "restaurant id")
	upsert.Flags().StringVar(&u.Name, "name", "", "display name")
	upsert.Flags().StringVar(&u.Email, "email", "", "email address")
	upsert.Flags().StringVar(&u.Phone, "phone", "", "phone number for sms")
	upsert.Flags().StringVar(&u.PushToken, "push-token", "", "device token for push")
	upsert.Flags().StringVar(&role, "role", string(model.RoleStaff), "admin, manager or staff")
	upsert.Flags().BoolVar(&inactive, "inactive", false, "mark the user inactive")
	_ = upsert.MarkFlagRequired("restaurant")

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff members",
	}
	cmd.AddCommand(upsert)
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	issue := &cobra.Command{
		Use:   "issue [user-id]",
		Short: "Issue an actor token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				u, err := a.store.GetUserByID(ctx, args[0])
				if err != nil {
					return err
				}
				iss, err := identity.NewIssuer(a.cfg.Auth.JWTSecret, nil)
				if err != nil {
					return err
				}
				token, err := iss.WithTTL(ttl).Issue(*u)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", identity.DefaultTTL, "token lifetime")

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage actor tokens",
	}
	cmd.AddCommand(issue)
	return cmd
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage channel secrets in the system keyring",
	}

	set := &cobra.Command{
		Use:       "set [key]",
		Short:     "Store a secret read from stdin",
		Args:      cobra.ExactArgs(1),
		ValidArgs: credential.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKey(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Value for %s: ", args[0])
			value, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("reading value: %w", err)
			}
			if err := credential.Set(args[0], strings.TrimSpace(value)); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Saved.")
			return nil
		},
	}

	del := &cobra.Command{
		Use:       "delete [key]",
		Short:     "Remove a secret",
		Args:      cobra.ExactArgs(1),
		ValidArgs: credential.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKey(args[0]); err != nil {
				return err
			}
			return credential.Delete(args[0])
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}

func checkKey(key string) error {
	for _, k := range credential.Keys {
		if k == key {
			return nil
		}
	}
	return fmt.Errorf("unknown key %q (want one of %s)", key, strings.Join(credential.Keys, ", "))
}

func inboxCmd() *cobra.Command {
	var limit int
	var markRead string

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List the actor's unread notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				actor, err := a.actor(ctx)
				if err != nil {
					return err
				}
				if markRead != "" {
					if err := a.svc.Dispatcher().MarkRead(ctx, markRead, actor); err != nil {
						return err
					}
				}
				items, count, err := a.svc.Inbox(ctx, actor, limit)
				if err != nil {
					return err
				}
				fmt.Println(report.Inbox(items, count))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum notifications to list")
	cmd.Flags().StringVar(&markRead, "read", "", "mark this notification read first")
	return cmd
}
