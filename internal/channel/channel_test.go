package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
)

func delivery() notify.Delivery {
	return notify.Delivery{
		Notification: model.Notification{
			ID:      "n-1",
			TaskID:  "t-1",
			Type:    model.NotifyEscalation,
			Channel: model.ChannelSMS,
			Title:   "Escalation (level 1)",
			Message: "Walk-in cooler is 6 degrees over",
			Payload: map[string]any{"escalation_level": 1},
		},
		Recipient: model.User{
			ID: "u-cook", Name: "Cleo Cook", Email: "cleo@example.com",
			Phone: "+15550001", PushToken: "device-abc",
		},
	}
}

func TestWebhookSenderPostsPayload(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(model.ChannelSMS, srv.URL, "secret")
	if err := s.Send(context.Background(), delivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if got.To != "+15550001" || got.Channel != "sms" || got.NotificationID != "n-1" || got.Type != "escalation" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookSenderPushUsesToken(t *testing.T) {
	var to string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		to = p.To
	}))
	defer srv.Close()

	if err := NewWebhookSender(model.ChannelPush, srv.URL, "").Send(context.Background(), delivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if to != "device-abc" {
		t.Fatalf("expected push token as address, got %q", to)
	}
}

func TestWebhookSenderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "carrier rejected number", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSender(model.ChannelSMS, srv.URL, "")
	err := s.Send(context.Background(), delivery())
	if !apperr.IsDeliveryFailure(err) || !strings.Contains(err.Error(), "carrier rejected") {
		t.Fatalf("expected delivery failure with provider message, got %v", err)
	}

	d := delivery()
	d.Recipient.Phone = ""
	if err := s.Send(context.Background(), d); !apperr.IsDeliveryFailure(err) {
		t.Fatalf("expected delivery failure without phone, got %v", err)
	}
}

func TestWebhookSenderRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewWebhookSender(model.ChannelSMS, srv.URL, "").Send(context.Background(), delivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a retry after 429, got %d calls", calls.Load())
	}
}

func TestComposeMessage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw, err := composeMessage("ops@example.com", delivery(), now)
	if err != nil {
		t.Fatalf("composeMessage: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parsing composed message: %v", err)
	}
	subject, err := mr.Header.Subject()
	if err != nil || subject != "Escalation (level 1)" {
		t.Errorf("unexpected subject %q (%v)", subject, err)
	}
	to, err := mr.Header.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "cleo@example.com" {
		t.Errorf("unexpected recipients %v (%v)", to, err)
	}
	if mr.Header.Get("X-Notification-Id") != "n-1" {
		t.Errorf("missing notification id header")
	}

	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("reading body part: %v", err)
	}
	body, _ := io.ReadAll(part.Body)
	if !strings.Contains(string(body), "Walk-in cooler is 6 degrees over") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestEmailSenderSend(t *testing.T) {
	s := NewEmailSender(model.EmailConfig{Host: "smtp.example.com", Port: 587, Username: "ops", From: "ops@example.com"}, "pw")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth sasl.Client
	s.send = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		gotAddr, gotFrom, gotTo, gotAuth = addr, from, to, a
		_, err := io.ReadAll(r)
		return err
	}

	if err := s.Send(context.Background(), delivery()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "ops@example.com" {
		t.Errorf("unexpected envelope addr=%s from=%s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "cleo@example.com" {
		t.Errorf("unexpected rcpt %v", gotTo)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when a username is configured")
	}

	s.send = func(string, sasl.Client, string, []string, io.Reader) error {
		return errors.New("421 service not available")
	}
	if err := s.Send(context.Background(), delivery()); !apperr.IsDeliveryFailure(err) {
		t.Fatalf("expected delivery failure, got %v", err)
	}

	d := delivery()
	d.Recipient.Email = ""
	if err := s.Send(context.Background(), d); !apperr.IsDeliveryFailure(err) {
		t.Fatalf("expected delivery failure without email, got %v", err)
	}
}
