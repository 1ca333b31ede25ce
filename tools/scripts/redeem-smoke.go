// Package main is a CI-friendly smoke test for a running teaminvite server.
//
// It validates:
//   - /healthz and /readyz
//   - POST /v1/redeem with a real code
//   - the booking watch stream until a terminal status (for pending answers)
//   - GET /v1/bookings/{id} agrees with the final status
//   - a repeat redemption with the same code and email is idempotent
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxReadBytes = 1 << 16

type statusView struct {
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin  = flag.String("origin", "", "Origin header for the watch handshake")
		code    = flag.String("code", "", "redemption code (required)")
		email   = flag.String("email", "", "email to invite (required)")
		timeout = flag.Duration("timeout", 90*time.Second, "overall timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*code) == "" || strings.TrimSpace(*email) == "" {
		fatalf("-code and -email are required")
	}
	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	base := strings.TrimRight(*baseURL, "/")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	mustStatus(ctx, base+"/healthz", http.StatusOK)
	mustStatus(ctx, base+"/readyz", http.StatusOK)

	first, httpStatus := mustRedeem(ctx, base, *code, *email)
	if *verbose {
		fmt.Printf("redeem: http=%d booking=%s status=%s\n", httpStatus, first.BookingID, first.Status)
	}

	final := first
	if first.Status == "pending" {
		final = mustWatch(ctx, base, *origin, first.BookingID, *verbose)
	}
	if final.Status != "confirmed" && final.Status != "failed" {
		fatalf("unexpected terminal status %q", final.Status)
	}

	polled := mustGetBooking(ctx, base, first.BookingID)
	if polled.Status != final.Status {
		fatalf("status mismatch: watch=%s poll=%s", final.Status, polled.Status)
	}

	if final.Status == "confirmed" {
		again, _ := mustRedeem(ctx, base, *code, *email)
		if again.Status != "confirmed" {
			fatalf("repeat redemption: got %q, want confirmed", again.Status)
		}
	}

	fmt.Printf("OK: booking=%s status=%s %s\n", final.BookingID, final.Status, final.Message)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustStatus(ctx context.Context, u string, want int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		fatalf("build request %s: %v", u, err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("GET %s: %v", u, err)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
	if res.StatusCode != want {
		fatalf("GET %s: status %d, want %d", u, res.StatusCode, want)
	}
}

func mustRedeem(ctx context.Context, base, code, email string) (statusView, int) {
	body, _ := json.Marshal(map[string]string{"code": code, "email": email})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/redeem", bytes.NewReader(body))
	if err != nil {
		fatalf("build redeem request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("redeem: %v", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusAccepted {
		fatalf("redeem: status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out statusView
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("redeem: decode: %v", err)
	}
	if out.BookingID == "" {
		fatalf("redeem: missing booking_id")
	}
	return out, res.StatusCode
}

func mustWatch(ctx context.Context, base, origin, bookingID string, verbose bool) statusView {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/bookings/" + url.PathEscape(bookingID) + "/watch"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("watch connect: %v", err)
	}
	defer closeWS(conn)
	conn.SetReadLimit(maxReadBytes)

	for {
		var v statusView
		if err := wsjson.Read(ctx, conn, &v); err != nil {
			fatalf("watch read: %v", err)
		}
		if verbose {
			fmt.Printf("watch: status=%s at=%s\n", v.Status, v.UpdatedAt.Format(time.RFC3339))
		}
		if v.Status != "pending" {
			return v
		}
	}
}

func mustGetBooking(ctx context.Context, base, bookingID string) statusView {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/bookings/"+url.PathEscape(bookingID), nil)
	if err != nil {
		fatalf("build status request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("status: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("status: http %d", res.StatusCode)
	}
	var v statusView
	if err := json.NewDecoder(io.LimitReader(res.Body, maxReadBytes)).Decode(&v); err != nil {
		fatalf("status: decode: %v", err)
	}
	return v
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
