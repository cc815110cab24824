// Command opsctl operates the restaurant task engine: it creates and moves
// tasks, imports escalation rules and runs the batch sweeps.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/restaurant-ops/internal/channel"
	"github.com/nhle/restaurant-ops/internal/credential"
	"github.com/nhle/restaurant-ops/internal/identity"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/ops"
	"github.com/nhle/restaurant-ops/internal/store"
)

var Version = "dev"

var (
	configPath string
	tokenFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operate restaurant task lifecycle, escalations and notifications",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "actor token (defaults to $OPS_TOKEN)")

	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is what most commands need: config, an open store and the engine.
type app struct {
	cfg   *model.AppConfig
	store *store.SQLStore
	svc   *ops.Service
}

func openApp() (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	svc := ops.New(s, nil, ops.OptionsFromConfig(cfg))
	if err := registerSenders(svc, cfg.Notifications); err != nil {
		s.Close()
		return nil, err
	}
	return &app{cfg: cfg, store: s, svc: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// registerSenders wires the external channels that are configured.
// Channels without configuration stay unregistered and their
// notifications fail delivery.
func registerSenders(svc *ops.Service, cfg model.NotificationConfig) error {
	d := svc.Dispatcher()

	if cfg.Email.Host != "" {
		password, err := credential.Lookup(credential.KeySMTPPassword)
		if err != nil {
			return err
		}
		d.RegisterSender(model.ChannelEmail, channel.NewEmailSender(cfg.Email, password))
	}
	if cfg.SMS.URL != "" {
		token, err := credential.Lookup(credential.KeySMSToken)
		if err != nil {
			return err
		}
		d.RegisterSender(model.ChannelSMS, channel.NewWebhookSender(model.ChannelSMS, cfg.SMS.URL, token))
	}
	if cfg.Push.URL != "" {
		token, err := credential.Lookup(credential.KeyPushToken)
		if err != nil {
			return err
		}
		d.RegisterSender(model.ChannelPush, channel.NewWebhookSender(model.ChannelPush, cfg.Push.URL, token))
	}
	return nil
}

// actor resolves the caller from --token or $OPS_TOKEN.
func (a *app) actor(ctx context.Context) (model.Actor, error) {
	token := tokenFlag
	if token == "" {
		token = os.Getenv("OPS_TOKEN")
	}
	if token == "" {
		return model.Actor{}, fmt.Errorf("no actor token: pass --token or set OPS_TOKEN")
	}

	iss, err := identity.NewIssuer(a.cfg.Auth.JWTSecret, nil)
	if err != nil {
		return model.Actor{}, err
	}
	return iss.Resolve(ctx, a.store, strings.TrimSpace(token))
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}
