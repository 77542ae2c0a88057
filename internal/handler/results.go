package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/checkin/internal/export"
	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/metrics"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
)

type subjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type chartText struct {
	Title          string `json:"title"`
	Legend         string `json:"legend"`
	ThresholdLabel string `json:"threshold_label"`
}

type resultsResponse struct {
	Subject  subjectRef            `json:"subject"`
	Table    model.ResponseTable   `json:"table"`
	Series   model.ScoreSeries     `json:"series"`
	Outcome  *model.Outcome        `json:"outcome,omitempty"`
	Empty    bool                  `json:"empty"`
	Message  string                `json:"message,omitempty"`
	Summary  string                `json:"summary,omitempty"`
	Sessions []model.SessionExport `json:"sessions"`
	Chart    chartText             `json:"chart"`
}

func (h *Handler) handleOwnResults(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityFromContext(r.Context())
	h.renderResults(w, r, id.UserID)
}

func (h *Handler) handleClientResults(w http.ResponseWriter, r *http.Request) {
	id := model.IdentityFromContext(r.Context())
	subjectID := chi.URLParam(r, "userID")
	if !h.policy.CanViewSubject(*id, subjectID) {
		writeError(w, http.StatusForbidden, appI18n.T(r.Context(), "Unauthorized"))
		return
	}
	h.renderResults(w, r, subjectID)
}

func (h *Handler) renderResults(w http.ResponseWriter, r *http.Request, subjectID string) {
	ctx := r.Context()
	data, err := h.fetchSubject(ctx, subjectID)
	if err != nil {
		h.upstreamError(w, r, "fetch results", err)
		return
	}

	rep, ok := h.compute(w, r, data.records, data.questions)
	if !ok {
		return
	}

	subject := export.Subject{ID: subjectID}
	if data.info != nil {
		subject.Name = data.info.DisplayName()
	}
	doc := export.Build(subject, rep, data.questions, h.scoring, h.answerLabel(ctx), h.now())

	resp := resultsResponse{
		Subject:  subjectRef{ID: subject.ID, Name: subject.Name},
		Table:    rep.Table,
		Series:   rep.Series,
		Outcome:  doc.Outcome,
		Empty:    rep.Empty,
		Sessions: doc.Sessions,
		Chart: chartText{
			Title:          appI18n.T(ctx, "ChartTitle"),
			Legend:         appI18n.T(ctx, "SeriesLegend"),
			ThresholdLabel: appI18n.T(ctx, "ThresholdLabel"),
		},
	}
	if rep.Empty {
		resp.Message = appI18n.T(ctx, "NoCheckins")
	} else {
		resp.Summary = appI18n.Tp(ctx, "SessionsCompleted", rep.Aggregation.Len())
	}
	writeJSON(w, http.StatusOK, resp)
}

// compute runs the results pipeline. Malformed data is never shown
// partially: the request fails with 422.
func (h *Handler) compute(w http.ResponseWriter, r *http.Request, records []model.ResponseRecord, questions model.QuestionMap) (*results.Report, bool) {
	ctx := r.Context()
	rep, err := results.Compute(records, questions, results.Options{
		Scoring:       &h.scoring,
		QuestionLabel: appI18n.QuestionLabel(ctx),
		SeriesLabel:   appI18n.SeriesLabel(ctx, true),
	})
	if err != nil {
		h.metrics.ResultsComputed(metrics.OutcomeMalformed)
		if errors.Is(err, results.ErrDataIntegrity) {
			slog.Warn("malformed response data", "error", err)
		} else {
			slog.Error("compute results", "error", err)
		}
		writeError(w, http.StatusUnprocessableEntity, appI18n.T(ctx, "ResultsUnavailable"))
		return nil, false
	}
	if rep.Empty {
		h.metrics.ResultsComputed(metrics.OutcomeEmpty)
	} else {
		h.metrics.ResultsComputed(metrics.OutcomeOK)
	}
	return rep, true
}

func (h *Handler) answerLabel(ctx context.Context) func(int) string {
	return func(v int) string { return appI18n.AnswerLabel(ctx, v) }
}

// handleSessionDetails shows the answers of one session. The API decides
// whether the caller may see it.
func (h *Handler) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	records, err := h.api.SessionDetails(ctx, sessionID)
	if err != nil {
		h.upstreamError(w, r, "fetch session details", err)
		return
	}
	var questions model.QuestionMap
	if qs, err := h.loadQuestions(ctx, string(model.DefaultQuestionnaireID)); err != nil {
		slog.Warn("question texts unavailable, using fallback labels", "error", err)
	} else {
		questions = model.NewQuestionMap(qs)
	}

	rep, ok := h.compute(w, r, records, questions)
	if !ok {
		return
	}
	doc := export.Build(export.Subject{}, rep, questions, h.scoring, h.answerLabel(ctx), h.now())
	if len(doc.Sessions) == 0 {
		writeError(w, http.StatusNotFound, appI18n.T(ctx, "NoCheckins"))
		return
	}
	writeJSON(w, http.StatusOK, doc.Sessions[0])
}

type answerOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

func (h *Handler) handleQuestionnaire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	questions, err := h.loadQuestions(ctx, string(model.DefaultQuestionnaireID))
	if err != nil {
		h.upstreamError(w, r, "fetch questions", err)
		return
	}
	options := make([]answerOption, 0, 5)
	for v := 1; v <= 5; v++ {
		options = append(options, answerOption{Value: v, Label: appI18n.AnswerLabel(ctx, v)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": questions,
		"options":   options,
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if !h.bind(w, r, &sub) {
		return
	}
	sessionID, err := h.api.SubmitResponses(r.Context(), sub)
	if err != nil {
		h.upstreamError(w, r, "submit responses", err)
		return
	}
	id := model.IdentityFromContext(r.Context())
	slog.Info("responses submitted", "user_id", id.UserID, "session_id", sessionID, "answers", len(sub.Responses))
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sessionID,
		"message":    appI18n.T(r.Context(), "SubmitThanks"),
	})
}
