package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/restaurant-ops/internal/apperr"
	"github.com/nhle/restaurant-ops/internal/model"
	"github.com/nhle/restaurant-ops/internal/notify"
)

// sendFunc matches smtp.SendMail and smtp.SendMailTLS.
type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// EmailSender delivers notifications over SMTP submission.
type EmailSender struct {
	addr     string
	from     string
	username string
	password string
	send     sendFunc
	now      func() time.Time
}

// NewEmailSender creates a sender from cfg. The password comes from the
// keyring and may be empty for unauthenticated relays.
func NewEmailSender(cfg model.EmailConfig, password string) *EmailSender {
	send := smtp.SendMail
	if cfg.ImplicitTLS {
		send = smtp.SendMailTLS
	}
	return &EmailSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:     cfg.From,
		username: cfg.Username,
		password: password,
		send:     send,
		now:      time.Now,
	}
}

// Send implements notify.Sender.
func (s *EmailSender) Send(ctx context.Context, d notify.Delivery) error {
	if d.Recipient.Email == "" {
		return apperr.DeliveryFailuref("user %s has no email address", d.Recipient.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := composeMessage(s.from, d, s.now())
	if err != nil {
		return fmt.Errorf("composing email for notification %s: %w", d.Notification.ID, err)
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}
	if err := s.send(s.addr, auth, s.from, []string{d.Recipient.Email}, bytes.NewReader(msg)); err != nil {
		return apperr.DeliveryFailuref("smtp %s: %v", s.addr, err)
	}
	return nil
}

// composeMessage renders a notification as a plain-text RFC 5322 message.
func composeMessage(from string, d notify.Delivery, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: "Restaurant Ops", Address: from}})
	h.SetAddressList("To", []*mail.Address{{Name: d.Recipient.Name, Address: d.Recipient.Email}})
	h.SetSubject(d.Notification.Title)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("X-Notification-Id", d.Notification.ID)
	h.Set("X-Notification-Type", string(d.Notification.Type))
	if d.Notification.TaskID != "" {
		h.Set("X-Task-Id", d.Notification.TaskID)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, d.Notification.Message+"\r\n"); err != nil {
		return nil, fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}
