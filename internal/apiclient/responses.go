package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pavelanni/checkin/internal/model"
)

// PastResponses fetches every answer a subject has given. A 404 saying no
// responses exist is reported as an empty result, not an error.
func (c *Client) PastResponses(ctx context.Context, subjectID string) ([]model.ResponseRecord, error) {
	q := url.Values{}
	if subjectID != "" {
		q.Set("user_id", subjectID)
	}
	var raw []byte
	if err := c.do(ctx, http.MethodGet, "/past-responses", q, nil, &raw); err != nil {
		if isNoResponses(err) {
			return nil, nil
		}
		return nil, err
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("decode past responses: %w", err)
	}
	return records, nil
}

// SessionDetails fetches the answers of one session. The API omits the
// session id from these records, so it is filled in here.
func (c *Client) SessionDetails(ctx context.Context, sessionID string) ([]model.ResponseRecord, error) {
	var raw []byte
	q := url.Values{"session_id": {sessionID}}
	if err := c.do(ctx, http.MethodGet, "/session-details", q, nil, &raw); err != nil {
		return nil, err
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("decode session details: %w", err)
	}
	for i := range records {
		if records[i].SessionID == "" {
			records[i].SessionID = model.NormalizeID(sessionID)
		}
	}
	return records, nil
}

// Questions fetches the items of a questionnaire. An empty id asks for the
// default questionnaire.
func (c *Client) Questions(ctx context.Context, questionnaireID string) ([]model.Question, error) {
	q := url.Values{}
	if questionnaireID != "" {
		q.Set("questionnaire_id", questionnaireID)
	}
	var questions []model.Question
	if err := c.do(ctx, http.MethodGet, "/questions", q, nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// QuestionCache keeps the last good copy of each questionnaire.
type QuestionCache interface {
	SaveQuestions(questionnaireID string, questions []model.Question) error
	CachedQuestions(questionnaireID string) ([]model.Question, error)
}

// QuestionsWithCache fetches a questionnaire and refreshes cache. When the
// API call fails the cached copy is returned instead, if there is one.
func (c *Client) QuestionsWithCache(ctx context.Context, cache QuestionCache, questionnaireID string) ([]model.Question, error) {
	questions, err := c.Questions(ctx, questionnaireID)
	if err == nil {
		if cerr := cache.SaveQuestions(questionnaireID, questions); cerr != nil {
			slog.Warn("failed to cache questions", "error", cerr)
		}
		return questions, nil
	}

	cached, cerr := cache.CachedQuestions(questionnaireID)
	if cerr != nil {
		slog.Warn("failed to read cached questions", "error", cerr)
	}
	if len(cached) > 0 {
		slog.Warn("using cached questions", "questionnaire_id", questionnaireID, "error", err)
		return cached, nil
	}
	return nil, err
}

// SubmitResponses stores a completed questionnaire and returns the new
// session id.
func (c *Client) SubmitResponses(ctx context.Context, sub model.Submission) (string, error) {
	var out struct {
		SessionID model.ID `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/submit-responses", nil, sub, &out); err != nil {
		return "", err
	}
	return out.SessionID.String(), nil
}

// DecodeRecords accepts either a flat list of response records or a list of
// sessions with their responses nested inside, and returns flat records.
func DecodeRecords(data []byte) ([]model.ResponseRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("expected a list: %w", err)
	}
	records := make([]model.ResponseRecord, 0, len(items))
	for i, item := range items {
		var probe struct {
			Responses json.RawMessage `json:"responses"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if probe.Responses != nil {
			var p model.SessionPayload
			if err := json.Unmarshal(item, &p); err != nil {
				return nil, fmt.Errorf("session %d: %w", i, err)
			}
			records = append(records, p.Flatten()...)
			continue
		}
		var r model.ResponseRecord
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func isNoResponses(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		return false
	}
	return strings.HasPrefix(strings.ToLower(apiErr.Message), "no responses")
}
