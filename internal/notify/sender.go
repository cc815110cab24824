package notify

import (
	"context"

	"github.com/nhle/restaurant-ops/internal/model"
)

// Delivery is what a channel needs to deliver one notification.
type Delivery struct {
	Notification model.Notification
	Recipient    model.User
}

// Sender delivers notifications over one external channel (email, SMS,
// push). A non-nil error marks the attempt failed.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, d Delivery) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }
