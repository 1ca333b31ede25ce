package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveReservation("reserved")
	m.ObserveReservation("reserved")
	m.ObserveRedemption(booking.StatusConfirmed)
	m.ObserveRefresh("t1", &upstream.Error{Op: "Refresh", Kind: upstream.ErrCredentialInvalid})
	m.ObserveUpstream("SendInvite", nil, 120*time.Millisecond)
	m.ObserveSeatCorrection("t1", "upstream", 5, 2)

	out := scrape(t, m)
	assert.Contains(t, out, `teaminvite_reservations_total{result="reserved"} 2`)
	assert.Contains(t, out, `teaminvite_redemptions_total{status="confirmed"} 1`)
	assert.Contains(t, out, `teaminvite_credential_refreshes_total{result="credential_invalid"} 1`)
	assert.Contains(t, out, `teaminvite_upstream_requests_total{op="SendInvite",result="ok"} 1`)
	assert.Contains(t, out, `teaminvite_upstream_request_duration_seconds_count{op="SendInvite"} 1`)
	assert.Contains(t, out, `teaminvite_seat_correction_seats_total{source="upstream"} 3`)
	assert.Contains(t, out, "go_goroutines")
}

func TestResult(t *testing.T) {
	cases := map[error]string{
		nil:                      "ok",
		context.DeadlineExceeded: "timeout",
		fmt.Errorf("wrap: %w", upstream.ErrChallengeBlocked): "challenge_blocked",
		&upstream.Error{Op: "x", Status: 503, Kind: upstream.ErrUnavailable}: "unavailable",
		io.EOF: "error",
	}
	for err, want := range cases {
		assert.Equal(t, want, Result(err), fmt.Sprint(err))
	}
}
