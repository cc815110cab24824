// Package channel implements the external delivery collaborators behind
// the notification dispatcher: SMTP email and JSON webhooks for SMS and
// push providers.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
)

// WebhookSender posts notifications as JSON to an SMS or push provider.
// It authenticates with a Bearer token and retries on HTTP 429 with
// exponential backoff.
type WebhookSender struct {
	channel    model.Channel
	url        string
	token      string
	httpClient *http.Client
	maxRetries int
}

// NewWebhookSender creates a sender for ch (sms or push) posting to url.
func NewWebhookSender(ch model.Channel, url, token string) *WebhookSender {
	return &WebhookSender{
		channel: ch,
		url:     strings.TrimRight(url, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		maxRetries: 3,
	}
}

// webhookPayload is the request body sent to the provider.
type webhookPayload struct {
	NotificationID string         `json:"notification_id"`
	Channel        string         `json:"channel"`
	To             string         `json:"to"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	TaskID         string         `json:"task_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// Send implements notify.Sender.
func (s *WebhookSender) Send(ctx context.Context, d notify.Delivery) error {
	to := s.address(d.Recipient)
	if to == "" {
		return apperr.DeliveryFailuref("user %s has no %s address", d.Recipient.ID, s.channel)
	}

	data, err := json.Marshal(webhookPayload{
		NotificationID: d.Notification.ID,
		Channel:        string(s.channel),
		To:             to,
		Type:           string(d.Notification.Type),
		Title:          d.Notification.Title,
		Message:        d.Notification.Message,
		TaskID:         d.Notification.TaskID,
		Data:           d.Notification.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", s.channel, err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("creating %s request: %w", s.channel, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		req.Header.Set("Idempotency-Key", d.Notification.ID+"-"+strconv.Itoa(d.Notification.RetryCount))

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return apperr.DeliveryFailuref("%s provider unreachable: %v", s.channel, err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if readErr != nil {
			return apperr.DeliveryFailuref("reading %s provider response: %v", s.channel, readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = apperr.DeliveryFailuref("%s provider rate limited (429)", s.channel)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperr.DeliveryFailuref("%s provider returned %d: %s",
				s.channel, resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", s.maxRetries, lastErr)
}

func (s *WebhookSender) address(u model.User) string {
	switch s.channel {
	case model.ChannelSMS:
		return u.Phone
	case model.ChannelPush:
		return u.PushToken
	}
	return ""
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
