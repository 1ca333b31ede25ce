package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api"
	cfg.SessionURL = srv.URL + "/session"
	cfg.Timeout = 2 * time.Second
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestClient_SendInvite(t *testing.T) {
	var got struct {
		Emails []string `json:"email_addresses"`
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/accounts/acct-1/invites", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"account_invites":[]}`))
	}))

	require.NoError(t, c.SendInvite(context.Background(), "acct-1", "a@example.com", "tok"))
	assert.Equal(t, []string{"a@example.com"}, got.Emails)
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header map[string]string
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, nil, `{"detail":"token expired"}`, ErrAuthorizationExpired},
		{"forbidden", http.StatusForbidden, nil, `{"message":"nope"}`, ErrAuthorizationExpired},
		{"challenge header", http.StatusForbidden, map[string]string{"cf-mitigated": "challenge"}, `<html></html>`, ErrChallengeBlocked},
		{"challenge body", http.StatusServiceUnavailable, nil, `<html><title>Just a moment...</title></html>`, ErrChallengeBlocked},
		{"server error", http.StatusBadGateway, nil, ``, ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, nil, ``, ErrUnavailable},
		{"bad request", http.StatusBadRequest, nil, `{"error":{"message":"seat limit reached"}}`, ErrRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			err := c.SendInvite(context.Background(), "acct", "a@example.com", "tok")
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.status, StatusOf(err))
		})
	}
}

func TestClient_NetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.SessionURL = srv.URL
	srv.Close()

	c, err := New(cfg)
	require.NoError(t, err)
	err = c.SendInvite(context.Background(), "acct", "a@example.com", "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.SendInvite(ctx, "acct", "a@example.com", "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_MissingTokenIsAuthorizationExpired(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	err := c.SendInvite(context.Background(), "acct", "a@example.com", "")
	assert.ErrorIs(t, err, ErrAuthorizationExpired)
}

func TestClient_SeatUsage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/accounts/acct/users":
			_, _ = w.Write([]byte(`{"total":4,"items":[{"id":"u1","email":"a@x.io"}]}`))
		case "/api/accounts/acct/invites":
			_, _ = w.Write([]byte(`{"items":[{"id":"i1","email_address":"b@x.io"},{"id":"i2","email_address":"c@x.io"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	n, err := c.SeatUsage(context.Background(), "acct", "tok")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestClient_GetSubscription(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acct", r.URL.Query().Get("account_id"))
		_, _ = w.Write([]byte(`{"seats_in_use":3,"seats_entitled":5,"active_until":"2026-12-01T00:00:00Z","will_renew":true}`))
	}))

	sub, err := c.GetSubscription(context.Background(), "acct", "tok")
	require.NoError(t, err)
	assert.Equal(t, 3, sub.SeatsInUse)
	assert.Equal(t, 5, sub.SeatsAvailable)
	assert.True(t, sub.WillRenew)
	require.NotNil(t, sub.ActiveUntil)
}

func TestClient_Refresh(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Cookie") {
		case "good=1":
			_, _ = w.Write([]byte(`{"accessToken":"fresh"}`))
		case "dead=1":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	ctx := context.Background()

	tok, err := c.Refresh(ctx, "good=1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	_, err = c.Refresh(ctx, "dead=1")
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	_, err = c.Refresh(ctx, "other=1")
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	_, err = c.Refresh(ctx, "  ")
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestClient_ObserverSeesEveryCall(t *testing.T) {
	var mu sync.Mutex
	var ops []string
	obs := func(op string, err error, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, op)
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), WithObserver(obs))

	require.NoError(t, c.CancelAutoRenew(context.Background(), "acct", "tok"))
	require.NoError(t, c.CancelInvite(context.Background(), "acct", "a@x.io", "tok"))
	assert.Equal(t, []string{"CancelAutoRenew", "CancelInvite"}, ops)
}

func TestNeedsOperator(t *testing.T) {
	assert.True(t, NeedsOperator(&Error{Op: "x", Kind: ErrChallengeBlocked}))
	assert.True(t, NeedsOperator(&Error{Op: "x", Kind: ErrCredentialInvalid}))
	assert.False(t, NeedsOperator(&Error{Op: "x", Kind: ErrUnavailable}))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.BaseURL = "not a url"
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)

	cfg = DefaultConfig()
	cfg.Timeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}
