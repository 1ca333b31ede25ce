package httpapi

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"teaminvite/cmd/internal/redeem"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const watchWriteTimeout = 5 * time.Second

// handleBookingWatch streams a booking's status over a WebSocket until it is
// terminal. It polls the store, so it works whichever instance ran the
// redemption.
func (h *Handler) handleBookingWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := h.redeem.Status(r.Context(), id)
	if err != nil {
		h.writeErr(w, "http.watch.status.fail", err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.cfg.AllowedOrigins),
	})
	if err != nil {
		h.log.Info("http.watch.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.WatchTimeout)
	defer cancel()
	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx = conn.CloseRead(ctx)

	if err := writeStatus(ctx, conn, v); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.WatchPoll)
	defer ticker.Stop()
	for !v.Status.Terminal() {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "watch ended")
			return
		case <-ticker.C:
		}
		next, err := h.redeem.Status(ctx, id)
		if err != nil {
			h.log.Warn("http.watch.poll.fail", "booking_id", id, "err", err)
			_ = conn.Close(websocket.StatusInternalError, "status unavailable")
			return
		}
		if next.Status != v.Status || next.Message != v.Message {
			if err := writeStatus(ctx, conn, next); err != nil {
				return
			}
		}
		v = next
	}
	_ = conn.Close(websocket.StatusNormalClosure, string(v.Status))
}

func writeStatus(parent context.Context, conn *websocket.Conn, v redeem.StatusView) error {
	ctx, cancel := context.WithTimeout(parent, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// originPatterns turns allowed origins into the host patterns
// websocket.Accept matches cross-origin requests against.
func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" {
			return []string{"*"}
		}
		h := originHost(a)
		if h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

func originHost(s string) string {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(strings.TrimSpace(s))
}
