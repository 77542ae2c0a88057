// Package handler serves the JSON web client: sign-in, the questionnaire,
// results and the admin views. All data comes from the check-in API; the
// local store only remembers who is signed in.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/checkin/internal/access"
	"github.com/pavelanni/checkin/internal/apiclient"
	"github.com/pavelanni/checkin/internal/metrics"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
	"github.com/pavelanni/checkin/internal/store"
	"github.com/pavelanni/checkin/internal/validation"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	api      *apiclient.Client
	metrics  *metrics.Metrics
	config   model.ClientConfig
	policy   access.Policy
	scoring  results.Scoring
	validate *validation.Validator
	now      func() time.Time
}

// New creates a new Handler. m may be nil.
func New(s *store.Store, api *apiclient.Client, m *metrics.Metrics, cfg model.ClientConfig) (*Handler, error) {
	v := validation.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %v", v.FieldErrors(err))
	}
	return &Handler{
		store:    s,
		api:      api,
		metrics:  m,
		config:   cfg,
		policy:   access.Policy{AdminActsAsClinician: cfg.AdminActsAsClinician},
		scoring:  results.Scoring{DefaultOffset: cfg.Offset, Offsets: cfg.Offsets},
		validate: v,
		now:      time.Now,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)

		r.Get("/healthz", h.handleHealth)
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/logout", h.handleLogout)
			r.Post("/logout-all", h.handleLogoutAll)
			r.Get("/me", h.handleMe)
			r.Get("/sessions/{sessionID}", h.handleSessionDetails)

			r.Group(func(r chi.Router) {
				r.Use(h.requireRole(model.RoleClient))
				r.Get("/questionnaire", h.handleQuestionnaire)
				r.Post("/questionnaire", h.handleSubmit)
				r.Get("/results", h.handleOwnResults)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.requireRole(model.RoleClinician))
				r.Get("/clients/search", h.handleSearchClients)
				r.Get("/clients/{userID}/results", h.handleClientResults)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.requireRole(model.RoleAdmin))
				r.Get("/clinicians", h.handleClinicians)
				r.Get("/admins", h.handleAdmins)
				r.Post("/invites", h.handleGenerateInvite)
				r.Post("/invites/validate", h.handleValidateInvite)
				r.Post("/users/{userID}/remove", h.handleRemoveUser)
				r.Get("/clinicians/{clinicianID}/data", h.handleClinicianData)
				r.Get("/overall-data", h.handleOverallData)
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes p with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFieldErrors(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "invalid request",
		"fields": fields,
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// bind decodes and validates a request body, writing the 400 itself.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		if fields := h.validate.FieldErrors(err); fields != nil {
			writeFieldErrors(w, fields)
			return false
		}
		slog.Error("validate request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	return true
}
