// Package notify alerts an operator when a team needs manual attention,
// typically a bot challenge or a rejected refresh secret.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Alert describes a team that needs an operator.
type Alert struct {
	TeamID   string
	TeamName string
	Reason   string
	Detail   string
}

// Notifier delivers operator alerts.
type Notifier interface {
	NotifyOperator(ctx context.Context, a Alert) error
}

// Noop drops alerts. Used when email is not configured.
type Noop struct{}

func (Noop) NotifyOperator(context.Context, Alert) error { return nil }

// sendFunc returns the provider's status code and body.
type sendFunc func(ctx context.Context, m *mail.SGMailV3) (int, string, error)

// SendGrid emails alerts through the SendGrid v3 API.
type SendGrid struct {
	send sendFunc
	from *mail.Email
	to   *mail.Email
}

// NewSendGrid constructs a SendGrid notifier.
func NewSendGrid(apiKey, from, to string) (*SendGrid, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("notify: api key, from and to are required")
	}
	client := sendgrid.NewSendClient(apiKey)
	return &SendGrid{
		send: func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
			res, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", err
			}
			return res.StatusCode, res.Body, nil
		},
		from: mail.NewEmail("teaminvite", from),
		to:   mail.NewEmail("operator", to),
	}, nil
}

func (s *SendGrid) NotifyOperator(ctx context.Context, a Alert) error {
	subject := fmt.Sprintf("[teaminvite] team %s needs attention: %s", a.displayName(), a.Reason)
	plain := fmt.Sprintf("Team: %s (%s)\nReason: %s\n\n%s\n\nUpdate the team's refresh secret or access token in the admin API.",
		a.displayName(), a.TeamID, a.Reason, a.Detail)
	msg := mail.NewSingleEmailPlainText(s.from, subject, s.to, plain)

	status, body, err := s.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", status, body)
	}
	return nil
}

func (a Alert) displayName() string {
	if a.TeamName != "" {
		return a.TeamName
	}
	return a.TeamID
}

// FromEnv returns a SendGrid notifier when TEAMINVITE_SENDGRID_API_KEY,
// TEAMINVITE_ALERT_FROM and TEAMINVITE_ALERT_TO are set, and Noop otherwise.
func FromEnv(log *slog.Logger) Notifier {
	key := strings.TrimSpace(os.Getenv("TEAMINVITE_SENDGRID_API_KEY"))
	if key == "" {
		return Noop{}
	}
	sg, err := NewSendGrid(key, os.Getenv("TEAMINVITE_ALERT_FROM"), os.Getenv("TEAMINVITE_ALERT_TO"))
	if err != nil {
		if log != nil {
			log.Warn("notify.config.invalid", "err", err)
		}
		return Noop{}
	}
	return sg
}

// Deduper suppresses repeat alerts for the same team and reason within a window.
type Deduper struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewDeduper wraps next. A zero window defaults to one hour.
func NewDeduper(next Notifier, window time.Duration) *Deduper {
	if window <= 0 {
		window = time.Hour
	}
	return &Deduper{next: next, window: window, now: time.Now, sent: make(map[string]time.Time)}
}

func (d *Deduper) NotifyOperator(ctx context.Context, a Alert) error {
	key := a.TeamID + "|" + a.Reason
	now := d.now()

	d.mu.Lock()
	if last, ok := d.sent[key]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.sent[key] = now
	d.mu.Unlock()

	if err := d.next.NotifyOperator(ctx, a); err != nil {
		d.mu.Lock()
		delete(d.sent, key)
		d.mu.Unlock()
		return err
	}
	return nil
}
