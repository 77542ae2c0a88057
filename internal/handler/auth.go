package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/checkin/internal/apiclient"
	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/store"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	token, err := generateCSRFToken()
	if err != nil {
		slog.Error("failed to generate CSRF token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return r, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return r.WithContext(model.ContextWithCSRFToken(r.Context(), token)), true
}

// csrfMiddleware issues a token cookie on safe requests and requires it
// back, in the X-CSRF-Token header or a csrf_token form field, on unsafe ones.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			if req, ok := h.setCSRFCookie(w, r); ok {
				next.ServeHTTP(w, req)
			}
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			writeError(w, http.StatusForbidden, "csrf token missing")
			return
		}

		sent := r.Header.Get(csrfHeaderName)
		if sent == "" {
			sent = r.FormValue("csrf_token")
		}
		if sent == "" {
			slog.Warn("CSRF request token missing")
			writeError(w, http.StatusForbidden, "csrf token missing")
			return
		}

		if len(sent) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}

		if req, ok := h.setCSRFCookie(w, r); ok {
			next.ServeHTTP(w, req)
		}
	})
}

// requireAuth loads the identity behind the session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "SessionExpired"))
			return
		}

		id, err := h.store.LoadIdentity(cookie.Value)
		if err != nil {
			slog.Error("failed to load identity", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if id == nil {
			h.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "SessionExpired"))
			return
		}

		ctx := model.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole admits identities the policy lets act as one of allowed.
func (h *Handler) requireRole(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := model.IdentityFromContext(r.Context())
			if id == nil {
				writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "SessionExpired"))
				return
			}
			if !h.policy.Allows(id.Role, allowed...) {
				writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "Unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     h.cookiePath(),
		MaxAge:   int(store.IdentityTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
}

// homePath is where the browser goes after signing in.
func (h *Handler) homePath(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return h.path("/admin")
	case model.RoleClinician:
		return h.path("/clients")
	}
	return h.path("/results")
}

type identityResponse struct {
	UserID         string       `json:"user_id"`
	Role           model.Role   `json:"role"`
	EffectiveRoles []model.Role `json:"effective_roles"`
	Name           string       `json:"name,omitempty"`
	Email          string       `json:"email,omitempty"`
	Home           string       `json:"home"`
}

func (h *Handler) identityResponse(id *model.Identity) identityResponse {
	return identityResponse{
		UserID:         id.UserID,
		Role:           id.Role,
		EffectiveRoles: h.policy.EffectiveRoles(id.Role),
		Home:           h.homePath(id.Role),
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if !h.bind(w, r, &creds) {
		return
	}

	res, err := h.api.Login(r.Context(), creds)
	if err != nil {
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			writeError(w, http.StatusUnauthorized, appI18n.T(r.Context(), "LoginError"))
			return
		}
		h.upstreamError(w, r, "login", err)
		return
	}

	id := &model.Identity{
		Token:       res.AccessToken,
		DeviceToken: res.DeviceToken,
		UserID:      res.UserID.String(),
		Role:        res.Role,
	}
	sid, err := h.store.SaveIdentity(id)
	if err != nil {
		slog.Error("failed to save identity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.setSessionCookie(w, sid)
	slog.Info("user signed in", "user_id", id.UserID, "role", id.Role)
	writeJSON(w, http.StatusOK, h.identityResponse(id))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg model.Registration
	if err := decodeJSON(w, r, &reg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if reg.Role == "" {
		reg.Role = model.RoleClient
	}
	if err := h.validate.Struct(reg); err != nil {
		writeFieldErrors(w, h.validate.FieldErrors(err))
		return
	}

	if reg.Role != model.RoleClient {
		granted, err := h.api.ValidateInvite(r.Context(), reg.InviteCode)
		if err != nil {
			h.upstreamError(w, r, "validate invite", err)
			return
		}
		if granted != reg.Role {
			writeFieldErrors(w, map[string]string{"invite_code": "invite code is for role " + string(granted)})
			return
		}
	}

	role, err := h.api.Register(r.Context(), reg)
	if err != nil {
		h.upstreamError(w, r, "register", err)
		return
	}
	slog.Info("user registered", "role", role)
	writeJSON(w, http.StatusCreated, map[string]any{"role": role, "login": h.path("/login")})
}

// handleLogout ends this device's session. The upstream call is best
// effort; the local identity is always cleared.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityFromContext(r.Context())
	if err := h.api.LogoutDevice(r.Context()); err != nil {
		slog.Warn("upstream logout failed", "user_id", id.UserID, "error", err)
	}
	if err := h.store.ClearIdentity(id.ID); err != nil {
		slog.Error("failed to clear identity", "error", err)
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"login": h.path("/login")})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityFromContext(r.Context())
	if err := h.api.LogoutAll(r.Context(), id.UserID); err != nil {
		h.upstreamError(w, r, "logout all", err)
		return
	}
	n, err := h.store.ClearIdentitiesForUser(id.UserID)
	if err != nil {
		slog.Error("failed to clear identities", "user_id", id.UserID, "error", err)
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"sessions_cleared": n, "login": h.path("/login")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityFromContext(r.Context())
	resp := h.identityResponse(id)
	info, err := h.api.UserInfo(r.Context(), id.UserID)
	if err != nil {
		slog.Warn("failed to fetch user info", "user_id", id.UserID, "error", err)
	} else {
		resp.Name = info.DisplayName()
		resp.Email = info.Email
	}
	writeJSON(w, http.StatusOK, resp)
}

// upstreamError translates an API failure for the browser. A rejected
// token ends the local session as well.
func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	var apiErr *apiclient.Error
	switch {
	case errors.Is(err, context.Canceled):
		slog.Debug("request cancelled", "op", op)
	case errors.Is(err, apiclient.ErrUnauthorized):
		if id := model.IdentityFromContext(ctx); id != nil {
			if cerr := h.store.ClearIdentity(id.ID); cerr != nil {
				slog.Error("failed to clear identity", "error", cerr)
			}
		}
		h.clearSessionCookie(w)
		writeError(w, http.StatusUnauthorized, appI18n.T(ctx, "SessionExpired"))
	case errors.Is(err, apiclient.ErrForbidden):
		writeError(w, http.StatusForbidden, appI18n.T(ctx, "Unauthorized"))
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest):
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		slog.Error("upstream call failed", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, appI18n.T(ctx, "FetchFailed"))
	}
}
