package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"teaminvite/cmd/internal/admin"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/dbtx"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/metrics"
	"teaminvite/cmd/internal/team"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "empty host", in: ":7000", want: "http://127.0.0.1:7000"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := runtimeBaseURL(tc.in); got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://invite.example.com", want: "wss://invite.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		if got := wsBaseURL(tc.in); got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

// fakeUpstream is the external team API: one existing member, no pending
// invites, and every invite accepted.
func fakeUpstream(t *testing.T, invites *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts/{id}/users", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"total":1,"items":[{"id":"u1","email":"owner@example.com"}]}`)
	})
	mux.HandleFunc("GET /api/accounts/{id}/invites", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"total":0,"items":[]}`)
	})
	mux.HandleFunc("POST /api/accounts/{id}/invites", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		invites.Add(1)
		_, _ = io.WriteString(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, upstreamURL string) *App {
	t.Helper()
	t.Setenv("TEAMINVITE_UPSTREAM_BASE_URL", upstreamURL+"/api")
	t.Setenv("TEAMINVITE_UPSTREAM_SESSION_URL", upstreamURL+"/api/auth/session")
	t.Setenv("TEAMINVITE_ADMIN_KEY_HASH", "")

	st := Stores{
		Teams:    team.NewInMemoryStore(),
		Bookings: booking.NewInMemoryStore(),
		Codes:    invite.NewInMemoryStore(),
		Runner:   dbtx.DirectRunner{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := assemble(LoadConfig(), log, st, metrics.New())
	require.NoError(t, err)
	return a
}

func TestApp_RedeemEndToEnd(t *testing.T) {
	var invites atomic.Int32
	up := fakeUpstream(t, &invites)
	a := newTestApp(t, up.URL)
	ctx := context.Background()

	added, err := a.Admin().AddTeam(ctx, admin.AddTeamInput{
		AccountID:   "acc-1",
		Name:        "Alpha",
		MaxSeats:    5,
		AccessToken: "tok-1",
	})
	require.NoError(t, err)
	require.Empty(t, added.SyncError)
	assert.Equal(t, 1, added.Team.CurrentSeats)

	issued, err := a.Admin().CreateCodes(ctx, invite.CreateInput{Count: 1})
	require.NoError(t, err)
	require.Len(t, issued, 1)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	body := `{"code":"` + issued[0].Plain + `","email":"User@Example.com"}`
	res, err := http.Post(srv.URL+"/v1/redeem", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get(requestIDHeader))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))

	var out struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "confirmed", out.Status)
	assert.EqualValues(t, 1, invites.Load())

	st, err := http.Get(srv.URL + "/v1/bookings/" + out.BookingID)
	require.NoError(t, err)
	defer st.Body.Close()
	assert.Equal(t, http.StatusOK, st.StatusCode)

	view, err := a.Admin().GetTeam(ctx, added.Team.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.CurrentSeats)
	assert.Equal(t, 1, view.Reserved)

	// Same code, other email.
	res2, err := http.Post(srv.URL+"/v1/redeem", "application/json",
		strings.NewReader(`{"code":"`+issued[0].Plain+`","email":"other@example.com"}`))
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusConflict, res2.StatusCode)

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	raw, err := io.ReadAll(m.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `teaminvite_redemptions_total{status="confirmed"} 1`)
	assert.Contains(t, string(raw), `teaminvite_upstream_requests_total{op="SendInvite",result="ok"} 1`)
}

func TestApp_GaugesAndAdminDisabled(t *testing.T) {
	var invites atomic.Int32
	up := fakeUpstream(t, &invites)
	a := newTestApp(t, up.URL)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for path, want := range map[string]int{
		"/healthz":          http.StatusOK,
		"/readyz":           http.StatusOK,
		"/v1/admin/teams":   http.StatusServiceUnavailable,
		"/v1/bookings/nope": http.StatusNotFound,
	} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = res.Body.Close()
		assert.Equal(t, want, res.StatusCode, path)
	}
}

func TestLoadDotEnv_MissingFileIsSkipped(t *testing.T) {
	t.Parallel()
	require.NoError(t, LoadDotEnv(t.TempDir()+"/absent.env"))
}
