// Package httpapi is the thin JSON/WebSocket transport over the redemption
// and admin services.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/redeem"
	"teaminvite/cmd/security/adminkey"
)

// Redeemer is the public redemption surface.
type Redeemer interface {
	Redeem(ctx context.Context, in redeem.RedeemInput) (redeem.Outcome, error)
	Status(ctx context.Context, bookingID string) (redeem.StatusView, error)
}

// Handler wires HTTP endpoints to the services.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	redeem  Redeemer
	admin   Admin
	keys    *keyVerifier
	limiter *keyedLimiter
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAdmin enables the admin routes.
func WithAdmin(a Admin, keyCfg adminkey.Config) HandlerOption {
	return func(h *Handler) {
		if a == nil {
			return
		}
		h.admin = a
		h.keys = newKeyVerifier(keyCfg, h.cfg.AdminKeyHash)
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, r Redeemer, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:     log,
		cfg:     cfg,
		redeem:  r,
		limiter: newKeyedLimiter(cfg.RedeemRateEvents, cfg.RedeemRateWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /v1/redeem", h.handleRedeem)
	mux.HandleFunc("GET /v1/bookings/{id}", h.handleBookingStatus)
	mux.HandleFunc("GET /v1/bookings/{id}/watch", h.handleBookingWatch)
	h.registerAdmin(mux)
}

type redeemRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if ok, retryAfter := h.limiter.Allow(clientIP(r, h.cfg.TrustProxy), h.now()); !ok {
		writeRateLimited(w, retryAfter)
		return
	}

	var req redeemRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and email are required")
		return
	}

	out, err := h.redeem.Redeem(r.Context(), redeem.RedeemInput{Code: req.Code, Email: req.Email})
	if err != nil {
		h.writeErr(w, "http.redeem.fail", err)
		return
	}
	status := http.StatusOK
	if out.Status == booking.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

func (h *Handler) handleBookingStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.redeem.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.booking.status.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
