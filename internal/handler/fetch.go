package handler

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/checkin/internal/model"
)

// subjectData is what a results view needs from the API.
type subjectData struct {
	records   []model.ResponseRecord
	questions model.QuestionMap
	info      *model.UserInfo
}

// fetchSubject loads a subject's responses, the question texts and the
// subject's name concurrently. Only the responses are required; the
// others degrade to fallback labels and an unnamed subject.
func (h *Handler) fetchSubject(ctx context.Context, subjectID string) (*subjectData, error) {
	var data subjectData
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	g.Go(func() error {
		records, err := h.api.PastResponses(gctx, subjectID)
		if err != nil {
			return err
		}
		data.records = records
		return nil
	})
	g.Go(func() error {
		questions, err := h.loadQuestions(gctx, string(model.DefaultQuestionnaireID))
		if err != nil {
			slog.Warn("question texts unavailable, using fallback labels", "error", err)
			return nil
		}
		data.questions = model.NewQuestionMap(questions)
		return nil
	})
	g.Go(func() error {
		info, err := h.api.UserInfo(gctx, subjectID)
		if err != nil {
			slog.Warn("failed to fetch subject name", "subject_id", subjectID, "error", err)
			return nil
		}
		data.info = info
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A response that arrives after the caller gave up is discarded.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &data, nil
}

func (h *Handler) loadQuestions(ctx context.Context, questionnaireID string) ([]model.Question, error) {
	return h.api.QuestionsWithCache(ctx, h.store, questionnaireID)
}
