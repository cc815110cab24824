// Package notify turns notification intents into delivered notifications.
// Intents that fail the recipient's preference check are dropped without a
// trace; the rest are persisted and handed to the channel's Sender. Failed
// deliveries are retried by RunRetrySweep until the attempt bound is hit.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/store"
)

// Options tunes the dispatcher.
type Options struct {
	// Workers bounds concurrent deliveries.
	Workers int

	// MaxRetries is the delivery attempt bound, at most
	// model.MaxDeliveryAttempts.
	MaxRetries int
}

// Dispatcher evaluates preferences and delivers notifications.
type Dispatcher struct {
	store store.Store
	now   func() time.Time
	opts  Options

	mu      sync.RWMutex
	senders map[model.Channel]Sender
}

// NewDispatcher creates a Dispatcher. A nil now uses time.Now.
func NewDispatcher(s store.Store, now func() time.Time, opts Options) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 || opts.MaxRetries > model.MaxDeliveryAttempts {
		opts.MaxRetries = model.MaxDeliveryAttempts
	}
	return &Dispatcher{
		store:   s,
		now:     now,
		opts:    opts,
		senders: make(map[model.Channel]Sender),
	}
}

// RegisterSender sets the Sender for an external channel.
func (d *Dispatcher) RegisterSender(ch model.Channel, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[ch] = s
}

func (d *Dispatcher) sender(ch model.Channel) Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.senders[ch]
}

// DispatchResult counts what happened to a batch of intents.
type DispatchResult struct {
	Sent      int
	Dropped   int
	Failed    int
	Scheduled int

	// Notifications holds every persisted notification in intent order.
	Notifications []model.Notification

	Errors []apperr.ItemError
}

type dispatchOutcome int

const (
	outcomeError dispatchOutcome = iota
	outcomeSent
	outcomeDropped
	outcomeFailed
	outcomeScheduled
)

type dispatchSlot struct {
	outcome      dispatchOutcome
	notification *model.Notification
	err          error
}

// Dispatch runs the pipeline for every intent. Intents for the same
// recipient are handled in order so frequency caps see earlier ones;
// different recipients are handled concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []model.NotificationIntent) (*DispatchResult, error) {
	slots := make([]dispatchSlot, len(intents))

	var order []string
	byRecipient := make(map[string][]int)
	for i, in := range intents {
		if _, ok := byRecipient[in.Recipient]; !ok {
			order = append(order, in.Recipient)
		}
		byRecipient[in.Recipient] = append(byRecipient[in.Recipient], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for _, recipient := range order {
		idx := byRecipient[recipient]
		g.Go(func() error {
			for _, i := range idx {
				slots[i] = d.dispatchOne(gctx, intents[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &DispatchResult{}
	for i, s := range slots {
		if s.notification != nil {
			result.Notifications = append(result.Notifications, *s.notification)
		}
		switch s.outcome {
		case outcomeSent:
			result.Sent++
		case outcomeDropped:
			result.Dropped++
		case outcomeFailed:
			result.Failed++
		case outcomeScheduled:
			result.Scheduled++
		default:
			result.Errors = append(result.Errors, apperr.ItemError{ID: fmt.Sprintf("intent[%d]", i), Err: s.err})
		}
	}
	return result, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, in model.NotificationIntent) dispatchSlot {
	if err := ctx.Err(); err != nil {
		return dispatchSlot{err: err}
	}
	if in.Recipient == "" {
		return dispatchSlot{err: apperr.Validationf("intent has no recipient")}
	}
	if !in.Channel.Valid() {
		return dispatchSlot{err: apperr.Validationf("intent for %s has unknown channel %q", in.Recipient, in.Channel)}
	}

	user, err := d.store.GetUserByID(ctx, in.Recipient)
	if err != nil {
		return dispatchSlot{err: err}
	}
	prefs, err := d.preferences(ctx, in.Recipient)
	if err != nil {
		return dispatchSlot{err: err}
	}

	now := d.now().UTC()
	if !ShouldSend(in.Type, in.Channel, prefs, now) {
		return dispatchSlot{outcome: outcomeDropped}
	}
	if !in.Type.IsUrgent() {
		capped, err := d.capReached(ctx, in.Recipient, prefs.Caps, now)
		if err != nil {
			return dispatchSlot{err: err}
		}
		if capped {
			return dispatchSlot{outcome: outcomeDropped}
		}
	}

	restaurantID := in.RestaurantID
	if restaurantID == "" {
		restaurantID = user.RestaurantID
	}
	n := model.Notification{
		RestaurantID: restaurantID,
		RecipientID:  in.Recipient,
		TaskID:       in.TaskID,
		Type:         in.Type,
		Channel:      in.Channel,
		Title:        in.Title,
		Message:      in.Message,
		Payload:      in.Payload,
		ScheduledFor: now,
		CreatedAt:    now,
	}
	if in.ScheduledFor != nil {
		n.ScheduledFor = in.ScheduledFor.UTC()
	}
	if err := d.store.CreateNotification(ctx, &n); err != nil {
		return dispatchSlot{err: err}
	}

	if n.ScheduledFor.After(now) {
		return dispatchSlot{outcome: outcomeScheduled, notification: &n}
	}

	sent, err := d.deliver(ctx, &n, *user)
	switch {
	case err != nil:
		return dispatchSlot{err: err, notification: &n}
	case sent:
		return dispatchSlot{outcome: outcomeSent, notification: &n}
	default:
		return dispatchSlot{outcome: outcomeFailed, notification: &n}
	}
}

// preferences returns the stored preferences or the defaults.
func (d *Dispatcher) preferences(ctx context.Context, userID string) (model.NotificationPreferences, error) {
	prefs, err := d.store.GetPreferences(ctx, userID)
	if apperr.IsNotFound(err) {
		return model.DefaultPreferences(userID), nil
	}
	if err != nil {
		return model.NotificationPreferences{}, err
	}
	return *prefs, nil
}

func (d *Dispatcher) capReached(ctx context.Context, userID string, caps model.FrequencyCaps, now time.Time) (bool, error) {
	if caps.MaxPerHour > 0 {
		n, err := d.store.CountNotificationsSince(ctx, userID, now.Add(-time.Hour))
		if err != nil {
			return false, err
		}
		if n >= caps.MaxPerHour {
			return true, nil
		}
	}
	if caps.MaxPerDay > 0 {
		n, err := d.store.CountNotificationsSince(ctx, userID, now.Add(-24*time.Hour))
		if err != nil {
			return false, err
		}
		if n >= caps.MaxPerDay {
			return true, nil
		}
	}
	return false, nil
}

// deliver makes one delivery attempt and records its outcome. It reports
// whether the notification is now sent. The returned error is about
// recording the outcome, not about the channel.
func (d *Dispatcher) deliver(ctx context.Context, n *model.Notification, user model.User) (bool, error) {
	expected := n.RetryCount

	var sendErr error
	if n.Channel != model.ChannelInApp {
		if s := d.sender(n.Channel); s == nil {
			sendErr = apperr.DeliveryFailuref("no sender configured for channel %s", n.Channel)
		} else {
			sendErr = s.Send(ctx, Delivery{Notification: *n, Recipient: user})
		}
	}

	now := d.now().UTC()
	if sendErr == nil {
		n.SentAt = &now
		n.DeliveredAt = &now
		n.FailedAt = nil
		n.FailureReason = ""
	} else {
		n.FailedAt = &now
		n.FailureReason = sendErr.Error()
		n.RetryCount++
	}

	if err := d.store.UpdateNotificationDelivery(ctx, *n, expected); err != nil {
		return false, err
	}

	if sendErr != nil && n.IsPermanentlyFailed(d.opts.MaxRetries) {
		log.Printf("notify: notification %s to %s over %s failed permanently after %d attempts: %s",
			n.ID, n.RecipientID, n.Channel, n.RetryCount, n.FailureReason)
	}
	return sendErr == nil, nil
}
