package httpapi

import (
	"context"
	"net/http"
	"time"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/admin"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
)

// Admin is the operator surface (implemented by admin.Service).
type Admin interface {
	ListTeams(ctx context.Context) ([]admin.TeamView, error)
	GetTeam(ctx context.Context, id string) (admin.TeamView, error)
	AddTeam(ctx context.Context, in admin.AddTeamInput) (admin.AddTeamResult, error)
	UpdateTeam(ctx context.Context, id string, in team.UpdateInput) (admin.TeamView, error)
	SyncSeats(ctx context.Context, id string) (accounting.SyncResult, error)
	Recalculate(ctx context.Context, id string, count *int) (accounting.SyncResult, error)
	ReleaseBookings(ctx context.Context, teamID string, in admin.ReleaseInput) (admin.ReleaseResult, error)
	CancelPendingInvites(ctx context.Context, teamID string, emails []string) (admin.CancelResult, error)
	CreateCodes(ctx context.Context, in invite.CreateInput) ([]invite.Issued, error)
	RevokeCode(ctx context.Context, id string) (invite.Code, error)
	RefreshCredential(ctx context.Context, teamID string) (admin.RefreshResult, error)
	CancelAutoRenew(ctx context.Context, teamID string) (upstream.Subscription, error)
}

func (h *Handler) registerAdmin(mux *http.ServeMux) {
	if h.admin == nil {
		return
	}
	mux.HandleFunc("GET /v1/admin/teams", h.requireAdmin(h.handleListTeams))
	mux.HandleFunc("POST /v1/admin/teams", h.requireAdmin(h.handleAddTeam))
	mux.HandleFunc("GET /v1/admin/teams/{id}", h.requireAdmin(h.handleGetTeam))
	mux.HandleFunc("PATCH /v1/admin/teams/{id}", h.requireAdmin(h.handleUpdateTeam))
	mux.HandleFunc("POST /v1/admin/teams/{id}/sync", h.requireAdmin(h.handleSyncSeats))
	mux.HandleFunc("POST /v1/admin/teams/{id}/recalculate", h.requireAdmin(h.handleRecalculate))
	mux.HandleFunc("POST /v1/admin/teams/{id}/release", h.requireAdmin(h.handleRelease))
	mux.HandleFunc("POST /v1/admin/teams/{id}/cancel-invites", h.requireAdmin(h.handleCancelInvites))
	mux.HandleFunc("POST /v1/admin/teams/{id}/refresh", h.requireAdmin(h.handleRefresh))
	mux.HandleFunc("POST /v1/admin/teams/{id}/cancel-renewal", h.requireAdmin(h.handleCancelRenewal))
	mux.HandleFunc("POST /v1/admin/codes", h.requireAdmin(h.handleCreateCodes))
	mux.HandleFunc("POST /v1/admin/codes/{id}/revoke", h.requireAdmin(h.handleRevokeCode))
}

func (h *Handler) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.admin.ListTeams(r.Context())
	if err != nil {
		h.writeErr(w, "http.admin.teams.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (h *Handler) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.admin.GetTeam(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.admin.teams.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleAddTeam(w http.ResponseWriter, r *http.Request) {
	var req admin.AddTeamInput
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	res, err := h.admin.AddTeam(r.Context(), req)
	if err != nil {
		h.writeErr(w, "http.admin.teams.add.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type updateTeamRequest struct {
	Name          *string    `json:"name"`
	MaxSeats      *int       `json:"max_seats"`
	Priority      *int       `json:"priority"`
	Active        *bool      `json:"active"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ClearExpiry   bool       `json:"clear_expiry"`
	AccessToken   *string    `json:"access_token"`
	RefreshSecret *string    `json:"refresh_secret"`
	Note          *string    `json:"note"`
}

func (h *Handler) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req updateTeamRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.ClearExpiry && req.ExpiresAt != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expires_at and clear_expiry are exclusive")
		return
	}
	v, err := h.admin.UpdateTeam(r.Context(), r.PathValue("id"), team.UpdateInput{
		Name:          req.Name,
		MaxSeats:      req.MaxSeats,
		Priority:      req.Priority,
		Active:        req.Active,
		ExpiresAt:     req.ExpiresAt,
		ClearExpiry:   req.ClearExpiry,
		AccessToken:   req.AccessToken,
		RefreshSecret: req.RefreshSecret,
		Note:          req.Note,
	})
	if err != nil {
		h.writeErr(w, "http.admin.teams.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleSyncSeats(w http.ResponseWriter, r *http.Request) {
	res, err := h.admin.SyncSeats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.admin.teams.sync.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recalculateRequest struct {
	Count *int `json:"count"`
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalculateRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	res, err := h.admin.Recalculate(r.Context(), r.PathValue("id"), req.Count)
	if err != nil {
		h.writeErr(w, "http.admin.teams.recalculate.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req admin.ReleaseInput
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	res, err := h.admin.ReleaseBookings(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeErr(w, "http.admin.teams.release.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelInvitesRequest struct {
	Emails []string `json:"emails"`
}

func (h *Handler) handleCancelInvites(w http.ResponseWriter, r *http.Request) {
	var req cancelInvitesRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	res, err := h.admin.CancelPendingInvites(r.Context(), r.PathValue("id"), req.Emails)
	if err != nil {
		h.writeErr(w, "http.admin.teams.cancel_invites.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.admin.RefreshCredential(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.admin.teams.refresh.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancelRenewal(w http.ResponseWriter, r *http.Request) {
	sub, err := h.admin.CancelAutoRenew(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.admin.teams.cancel_renewal.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type createCodesRequest struct {
	Count      int     `json:"count"`
	TTLSeconds int64   `json:"ttl_seconds"`
	Note       *string `json:"note"`
}

type codeResponse struct {
	ID         string     `json:"id"`
	Code       string     `json:"code,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Note       *string    `json:"note,omitempty"`
}

func toCodeResponse(c invite.Code, plain string) codeResponse {
	return codeResponse{
		ID:         c.ID,
		Code:       plain,
		ExpiresAt:  c.ExpiresAt,
		RevokedAt:  c.RevokedAt,
		ConsumedAt: c.ConsumedAt,
		Note:       c.Note,
	}
}

func (h *Handler) handleCreateCodes(w http.ResponseWriter, r *http.Request) {
	var req createCodesRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ttl_seconds must be >= 0")
		return
	}
	issued, err := h.admin.CreateCodes(r.Context(), invite.CreateInput{
		Count: req.Count,
		TTL:   time.Duration(req.TTLSeconds) * time.Second,
		Note:  req.Note,
	})
	if err != nil {
		h.writeErr(w, "http.admin.codes.create.fail", err)
		return
	}
	out := make([]codeResponse, 0, len(issued))
	for _, is := range issued {
		out = append(out, toCodeResponse(is.Code, is.Plain))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": out})
}

func (h *Handler) handleRevokeCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.admin.RevokeCode(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, "http.admin.codes.revoke.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeResponse(c, ""))
}
