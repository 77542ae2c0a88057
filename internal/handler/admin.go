package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/model"
)

func (h *Handler) handleSearchClients(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeFieldErrors(w, map[string]string{"query": "query is a required field"})
		return
	}
	clients, err := h.api.SearchClients(r.Context(), query)
	if err != nil {
		h.upstreamError(w, r, "search clients", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (h *Handler) handleClinicians(w http.ResponseWriter, r *http.Request) {
	staff, err := h.api.Clinicians(r.Context())
	if err != nil {
		h.upstreamError(w, r, "list clinicians", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clinicians": staff})
}

func (h *Handler) handleAdmins(w http.ResponseWriter, r *http.Request) {
	staff, err := h.api.Admins(r.Context())
	if err != nil {
		h.upstreamError(w, r, "list admins", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admins": staff})
}

type inviteRequest struct {
	Role model.Role `json:"role" validate:"required,oneof=clinician admin"`
}

func (h *Handler) handleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !h.bind(w, r, &req) {
		return
	}
	code, err := h.api.GenerateInvite(r.Context(), req.Role)
	if err != nil {
		h.upstreamError(w, r, "generate invite", err)
		return
	}
	id := model.IdentityFromContext(r.Context())
	slog.Info("invite generated", "by", id.UserID, "role", req.Role)
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "role": req.Role})
}

type validateInviteRequest struct {
	Code string `json:"invite_code" validate:"required"`
}

func (h *Handler) handleValidateInvite(w http.ResponseWriter, r *http.Request) {
	var req validateInviteRequest
	if !h.bind(w, r, &req) {
		return
	}
	role, err := h.api.ValidateInvite(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		h.upstreamError(w, r, "validate invite", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role})
}

// handleRemoveUser deletes an account, then signs it out everywhere. The
// sign-out is best effort once the account is gone.
func (h *Handler) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := model.IdentityFromContext(ctx)
	userID := chi.URLParam(r, "userID")
	if userID == id.UserID {
		writeError(w, http.StatusBadRequest, appI18n.T(ctx, "CannotRemoveSelf"))
		return
	}

	if err := h.api.RemoveUser(ctx, userID); err != nil {
		h.upstreamError(w, r, "remove user", err)
		return
	}
	if err := h.api.LogoutAll(ctx, userID); err != nil {
		slog.Warn("failed to sign out removed user", "user_id", userID, "error", err)
	}
	n, err := h.store.ClearIdentitiesForUser(userID)
	if err != nil {
		slog.Error("failed to clear identities", "user_id", userID, "error", err)
	}
	slog.Info("user removed", "by", id.UserID, "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{"removed": userID, "sessions_cleared": n})
}

func (h *Handler) handleOverallData(w http.ResponseWriter, r *http.Request) {
	data, err := h.api.OverallData(r.Context())
	if err != nil {
		h.upstreamError(w, r, "fetch overall data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) handleClinicianData(w http.ResponseWriter, r *http.Request) {
	data, err := h.api.ClinicianData(r.Context(), chi.URLParam(r, "clinicianID"))
	if err != nil {
		h.upstreamError(w, r, "fetch clinician data", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
