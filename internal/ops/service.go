// Package ops is the entry point callers use to drive the engine. It wires
// the lifecycle manager, dependency resolver, escalation engine and
// notification dispatcher over one Store, and hands every notification
// intent an operation produces to the dispatcher.
package ops

import (
	"context"
	"log"
	"time"

	"github.com/nhle/restaurant-ops/internal/dependency"
	"github.com/nhle/restaurant-ops/internal/escalation"
	"github.com/nhle/restaurant-ops/internal/lifecycle"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Options tunes the engine components.
type Options struct {
	Escalation escalation.Options
	Notify     notify.Options

	// DefaultMaxEscalations fills in imported rules that omit the cap.
	DefaultMaxEscalations int
}

// OptionsFromConfig maps the application config onto Options.
func OptionsFromConfig(cfg *model.AppConfig) Options {
	return Options{
		Escalation: escalation.Options{
			BatchSize: cfg.Escalation.BatchSize,
			Workers:   cfg.Escalation.Workers,
		},
		Notify: notify.Options{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
		},
		DefaultMaxEscalations: cfg.Escalation.DefaultMaxEscalations,
	}
}

// Service exposes the engine operations.
type Service struct {
	store store.Store
	now   func() time.Time
	opts  Options

	lifecycle  *lifecycle.Manager
	resolver   *dependency.Resolver
	escalation *escalation.Engine
	dispatcher *notify.Dispatcher
}

// New wires a Service over s. A nil now uses time.Now.
func New(s store.Store, now func() time.Time, opts Options) *Service {
	if now == nil {
		now = time.Now
	}
	if opts.DefaultMaxEscalations <= 0 {
		opts.DefaultMaxEscalations = 3
	}

	m := lifecycle.NewManager(s, now)
	r := dependency.NewResolver(s, m)
	m.SetCompletionHook(r)

	return &Service{
		store:      s,
		now:        now,
		opts:       opts,
		lifecycle:  m,
		resolver:   r,
		escalation: escalation.NewEngine(s, m, now, opts.Escalation),
		dispatcher: notify.NewDispatcher(s, now, opts.Notify),
	}
}

// Dispatcher returns the notification dispatcher so callers can register
// channel senders.
func (s *Service) Dispatcher() *notify.Dispatcher {
	return s.dispatcher
}

// Store returns the underlying store.
func (s *Service) Store() store.Store {
	return s.store
}

// announce dispatches intents produced by a committed write. The write
// stands even when dispatch fails, so failures are only logged.
func (s *Service) announce(ctx context.Context, op string, intents []model.NotificationIntent) *notify.DispatchResult {
	if len(intents) == 0 {
		return &notify.DispatchResult{}
	}
	result, err := s.dispatcher.Dispatch(ctx, intents)
	if err != nil {
		log.Printf("ops: %s: dispatching %d intents: %v", op, len(intents), err)
		return &notify.DispatchResult{}
	}
	for _, ie := range result.Errors {
		log.Printf("ops: %s: %v", op, ie)
	}
	return result
}
