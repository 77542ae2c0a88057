package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DefaultQuestionnaireID is substituted on legacy records that predate
// questionnaire ids.
const DefaultQuestionnaireID ID = "core-10"

// MissingAnswer fills a table cell for a question not answered in a session.
const MissingAnswer = "-"

// ID is an opaque identifier that the API may send as a JSON number or
// string. It is always held in normalized string form.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NormalizeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = NormalizeID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// NormalizeID trims whitespace so that "7", " 7" and 7 compare equal.
func NormalizeID(s string) ID {
	return ID(strings.TrimSpace(s))
}

// Timestamp is a point in time decoded from the assorted formats the API
// has emitted over time. A zero value means the field was absent or null.
type Timestamp struct {
	time.Time
	// Unparsed keeps text that matched no known layout.
	Unparsed string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses s using the known layouts. Zone-less values are UTC.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON accepts a string in any known layout, or null. Anything
// else is kept in Unparsed for the caller to reject.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = Timestamp{Unparsed: string(b)}
		return nil
	}
	if strings.TrimSpace(s) == "" {
		*t = Timestamp{}
		return nil
	}
	ts, err := ParseTimestamp(s)
	if err != nil {
		*t = Timestamp{Unparsed: s}
		return nil
	}
	*t = ts
	return nil
}

// Valid reports whether the timestamp was present and parsed.
func (t Timestamp) Valid() bool {
	return t.Unparsed == "" && !t.IsZero()
}

// MarshalJSON writes RFC 3339, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Unparsed != "" {
		return json.Marshal(t.Unparsed)
	}
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Value is a response value as the API sent it. Numbers and numeric
// strings are kept as their literal; any other JSON is kept verbatim so
// that a bad value surfaces when records are aggregated, not while decoding.
type Value string

// UnmarshalJSON never fails on well-formed JSON.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*v = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(strings.TrimSpace(s))
	default:
		*v = Value(b)
	}
	return nil
}

// MarshalJSON writes numbers as numbers and anything else as a string.
func (v Value) MarshalJSON() ([]byte, error) {
	if v == "" {
		return []byte("null"), nil
	}
	if v.isNumber() {
		return []byte(v), nil
	}
	return json.Marshal(string(v))
}

func (v Value) isNumber() bool {
	r := rune(v[0])
	return (r == '-' || unicode.IsDigit(r)) && json.Valid([]byte(v))
}

// String returns the literal.
func (v Value) String() string { return string(v) }

// Int64 parses the value as an integer.
func (v Value) Int64() (int64, error) { return json.Number(v).Int64() }

// Float64 parses the value as a float.
func (v Value) Float64() (float64, error) { return json.Number(v).Float64() }

// ResponseRecord is one answer to one question within one session.
type ResponseRecord struct {
	SessionID       ID        `json:"session_id"`
	QuestionID      ID        `json:"question_id"`
	Value           Value     `json:"response_value"`
	Timestamp       Timestamp `json:"timestamp"`
	QuestionnaireID ID        `json:"questionnaire_id,omitempty"`
	UserID          ID        `json:"user_id,omitempty"`
}

// SessionPayload is the nested shape some endpoints use: one object per
// session with its answers inside.
type SessionPayload struct {
	SessionID       ID        `json:"session_id"`
	Timestamp       Timestamp `json:"timestamp"`
	QuestionnaireID ID        `json:"questionnaire_id,omitempty"`
	Responses       []struct {
		QuestionID ID    `json:"question_id"`
		Value      Value `json:"response_value"`
	} `json:"responses"`
}

// Flatten expands the nested shape into records.
func (p SessionPayload) Flatten() []ResponseRecord {
	out := make([]ResponseRecord, 0, len(p.Responses))
	for _, r := range p.Responses {
		out = append(out, ResponseRecord{
			SessionID:       p.SessionID,
			QuestionID:      r.QuestionID,
			Value:           r.Value,
			Timestamp:       p.Timestamp,
			QuestionnaireID: p.QuestionnaireID,
		})
	}
	return out
}

// Session is one administration of a questionnaire, folded from records.
type Session struct {
	ID              string         `json:"session_id"`
	Date            time.Time      `json:"date"`
	QuestionnaireID string         `json:"questionnaire_id"`
	Responses       map[string]int `json:"responses"`
}

// QuestionMap maps normalized question ids to display text.
type QuestionMap map[string]string

// NewQuestionMap indexes questions by normalized id.
func NewQuestionMap(questions []Question) QuestionMap {
	m := make(QuestionMap, len(questions))
	for _, q := range questions {
		m[string(NormalizeID(string(q.ID)))] = q.Text
	}
	return m
}

// TableRow is one question across all sessions.
type TableRow struct {
	QuestionID   string   `json:"question_id"`
	QuestionText string   `json:"question_text"`
	Responses    []string `json:"responses"`
	// Unlabeled is set when the question map had no text for this id.
	Unlabeled bool `json:"unlabeled,omitempty"`
}

// ResponseTable is the question-major matrix of answers.
type ResponseTable struct {
	Rows         []TableRow `json:"rows"`
	SessionDates []string   `json:"session_dates"`
	SessionIDs   []string   `json:"session_ids"`
}

// ScoreSeries is the chart-ready score per session.
type ScoreSeries struct {
	Labels     []string `json:"labels"`
	Scores     []int    `json:"scores"`
	SessionIDs []string `json:"session_ids"`
}

// ErrIndexOutOfRange is returned by Resolve for a position outside the series.
var ErrIndexOutOfRange = errors.New("series index out of range")

// Resolve maps a chart position back to the session it was built from.
func (s ScoreSeries) Resolve(index int) (string, error) {
	if index < 0 || index >= len(s.SessionIDs) {
		return "", fmt.Errorf("resolve %d of %d: %w", index, len(s.SessionIDs), ErrIndexOutOfRange)
	}
	return s.SessionIDs[index], nil
}

// Len returns the number of points in the series.
func (s ScoreSeries) Len() int { return len(s.Scores) }
