// Package upstream is the HTTP client for the external team API that owns
// seats, members and invitations, and for its session-refresh endpoint.
//
// Every failure is an *Error whose Kind is one of the package sentinels, so
// callers branch on errors.Is rather than on status codes.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBody = 1 << 20

// Observer is told about every completed call. err is nil on success.
type Observer func(op string, err error, elapsed time.Duration)

// Client talks to the external team API.
type Client struct {
	hc        *http.Client
	observe   Observer
	base      *url.URL
	session   string
	userAgent string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithObserver installs a per-call hook (metrics).
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// New constructs a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	c := &Client{
		hc:        &http.Client{Timeout: cfg.Timeout},
		base:      base,
		session:   cfg.SessionURL,
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Member is one seat holder.
type Member struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Members is a page of members or invites with the account total.
type Members struct {
	Total int      `json:"total"`
	Items []Member `json:"items"`
}

// Invite is one pending invitation.
type Invite struct {
	ID    string `json:"id"`
	Email string `json:"email_address"`
	Role  string `json:"role"`
}

// Invites is the pending invitation list with its total.
type Invites struct {
	Total int      `json:"total"`
	Items []Invite `json:"items"`
}

// Subscription is the account's billing view.
type Subscription struct {
	SeatsInUse     int        `json:"seats_in_use"`
	SeatsAvailable int        `json:"seats_entitled"`
	ActiveUntil    *time.Time `json:"active_until"`
	WillRenew      bool       `json:"will_renew"`
}

// SendInvite invites email into the account.
func (c *Client) SendInvite(ctx context.Context, accountID, email, token string) error {
	body := map[string]any{
		"email_addresses": []string{email},
		"role":            "standard-user",
		"resend_emails":   true,
	}
	return c.call(ctx, "SendInvite", http.MethodPost, c.accountPath(accountID, "invites"), token, body, nil)
}

// CancelInvite withdraws a pending invitation for email.
func (c *Client) CancelInvite(ctx context.Context, accountID, email, token string) error {
	body := map[string]any{"email_address": email}
	return c.call(ctx, "CancelInvite", http.MethodDelete, c.accountPath(accountID, "invites"), token, body, nil)
}

// ListMembers returns the account's current members.
func (c *Client) ListMembers(ctx context.Context, accountID, token string) (Members, error) {
	var out Members
	err := c.call(ctx, "ListMembers", http.MethodGet, c.accountPath(accountID, "users")+"?offset=0&limit=100", token, nil, &out)
	if err == nil && out.Total < len(out.Items) {
		out.Total = len(out.Items)
	}
	return out, err
}

// ListInvites returns the account's pending invitations.
func (c *Client) ListInvites(ctx context.Context, accountID, token string) (Invites, error) {
	var out Invites
	err := c.call(ctx, "ListInvites", http.MethodGet, c.accountPath(accountID, "invites")+"?offset=0&limit=100", token, nil, &out)
	if err == nil && out.Total < len(out.Items) {
		out.Total = len(out.Items)
	}
	return out, err
}

// SeatUsage is members plus pending invitations: both hold a seat.
func (c *Client) SeatUsage(ctx context.Context, accountID, token string) (int, error) {
	m, err := c.ListMembers(ctx, accountID, token)
	if err != nil {
		return 0, err
	}
	inv, err := c.ListInvites(ctx, accountID, token)
	if err != nil {
		return 0, err
	}
	return m.Total + inv.Total, nil
}

// GetSubscription returns the account's seat entitlement and renewal state.
func (c *Client) GetSubscription(ctx context.Context, accountID, token string) (Subscription, error) {
	var out Subscription
	p := "/subscriptions?account_id=" + url.QueryEscape(accountID)
	err := c.call(ctx, "GetSubscription", http.MethodGet, p, token, nil, &out)
	return out, err
}

// CancelAutoRenew turns off subscription renewal.
func (c *Client) CancelAutoRenew(ctx context.Context, accountID, token string) error {
	body := map[string]any{"account_id": accountID, "cancel_at_period_end": true}
	return c.call(ctx, "CancelAutoRenew", http.MethodPost, "/subscriptions/cancel", token, body, nil)
}

// Refresh exchanges a refresh secret (a session cookie header value) for a
// fresh access token.
func (c *Client) Refresh(ctx context.Context, refreshSecret string) (string, error) {
	const op = "Refresh"
	start := time.Now()
	token, err := c.refresh(ctx, refreshSecret)
	if c.observe != nil {
		c.observe(op, err, time.Since(start))
	}
	return token, err
}

func (c *Client) refresh(ctx context.Context, refreshSecret string) (string, error) {
	const op = "Refresh"
	if strings.TrimSpace(refreshSecret) == "" {
		return "", &Error{Op: op, Kind: ErrCredentialInvalid, Msg: "no refresh secret"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.session, nil)
	if err != nil {
		return "", &Error{Op: op, Kind: ErrUnavailable, Msg: err.Error()}
	}
	c.headers(req)
	req.Header.Set("Cookie", refreshSecret)

	status, hdr, body, err := c.do(req)
	if err != nil {
		return "", &Error{Op: op, Kind: ErrUnavailable, Msg: err.Error()}
	}
	if status >= 300 {
		ue := classify(op, status, hdr, body)
		if errors.Is(ue, ErrAuthorizationExpired) || errors.Is(ue, ErrRejected) {
			ue.Kind = ErrCredentialInvalid
		}
		return "", ue
	}
	var r struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &r); err != nil || strings.TrimSpace(r.AccessToken) == "" {
		// The endpoint answers 200 with an empty session when the cookie is dead.
		return "", &Error{Op: op, Status: status, Kind: ErrCredentialInvalid, Msg: "no access token in session"}
	}
	return r.AccessToken, nil
}

func (c *Client) accountPath(accountID, leaf string) string {
	return "/accounts/" + url.PathEscape(accountID) + "/" + leaf
}

func (c *Client) call(ctx context.Context, op, method, path, token string, in, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, token, in, out)
	if c.observe != nil {
		c.observe(op, err, time.Since(start))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, token string, in, out any) error {
	if strings.TrimSpace(token) == "" {
		return &Error{Op: op, Kind: ErrAuthorizationExpired, Msg: "no access token"}
	}
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Kind: ErrRejected, Msg: err.Error()}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return &Error{Op: op, Kind: ErrRejected, Msg: err.Error()}
	}
	c.headers(req)
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	status, hdr, body, err := c.do(req)
	if err != nil {
		return &Error{Op: op, Kind: ErrUnavailable, Msg: err.Error()}
	}
	if status >= 300 {
		return classify(op, status, hdr, body)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Op: op, Status: status, Kind: ErrUnavailable, Msg: "decode response: " + err.Error()}
		}
	}
	return nil
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func (c *Client) do(req *http.Request) (int, http.Header, []byte, error) {
	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return res.StatusCode, res.Header, nil, err
	}
	return res.StatusCode, res.Header, b, nil
}

// challengeMarkers are fragments of the interstitial pages bot protection serves.
var challengeMarkers = []string{
	"cf-chl",
	"challenge-platform",
	"just a moment...",
	"cf_chl_opt",
}

func isChallenge(status int, hdr http.Header, body []byte) bool {
	if strings.EqualFold(hdr.Get("cf-mitigated"), "challenge") {
		return true
	}
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, m := range challengeMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func classify(op string, status int, hdr http.Header, body []byte) *Error {
	e := &Error{Op: op, Status: status, Msg: apiMessage(body)}
	switch {
	case isChallenge(status, hdr, body):
		e.Kind = ErrChallengeBlocked
		e.Msg = "bot challenge page"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = ErrAuthorizationExpired
	case status == http.StatusTooManyRequests || status >= 500:
		e.Kind = ErrUnavailable
	default:
		e.Kind = ErrRejected
	}
	return e
}

// apiMessage extracts {"detail": "..."} / {"message": "..."} / {"error":{"message"}}.
func apiMessage(body []byte) string {
	var r struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	switch {
	case r.Message != "":
		return truncate(r.Message)
	case r.Error.Message != "":
		return truncate(r.Error.Message)
	}
	if s, ok := r.Detail.(string); ok {
		return truncate(s)
	}
	return ""
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
