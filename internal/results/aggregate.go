// Package results turns raw check-in answers into the views every results
// page needs: sessions in chronological order, a question-by-session
// answer table and a score series for charting.
//
// All functions are pure. They perform no I/O and never log; malformed
// input fails the whole computation with an error that matches
// ErrDataIntegrity, so a caller never renders partial clinical data.
package results

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/checkin/internal/model"
)

// ErrDataIntegrity classifies every malformed-input failure.
var ErrDataIntegrity = errors.New("data integrity")

// MalformedRecordError describes the first bad record found.
type MalformedRecordError struct {
	Index      int // position in the input
	SessionID  string
	QuestionID string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d (session %q, question %q): %s",
		e.Index, e.SessionID, e.QuestionID, e.Reason)
}

// Is makes every MalformedRecordError match ErrDataIntegrity.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// Aggregation is the result of folding records into sessions.
type Aggregation struct {
	Sessions map[string]model.Session
	// Order lists session ids by date ascending; equal dates keep input order.
	Order []string
}

// Len returns the number of sessions.
func (a Aggregation) Len() int { return len(a.Order) }

// Ordered returns the sessions in chronological order.
func (a Aggregation) Ordered() []model.Session {
	out := make([]model.Session, 0, len(a.Order))
	for _, id := range a.Order {
		out = append(out, a.Sessions[id])
	}
	return out
}

// Dates returns the session dates in chronological order.
func (a Aggregation) Dates() []time.Time {
	out := make([]time.Time, 0, len(a.Order))
	for _, id := range a.Order {
		out = append(out, a.Sessions[id].Date)
	}
	return out
}

// Aggregate groups records by session. The first record of a session sets
// its date and questionnaire; later records must agree. A repeated
// question id within a session keeps the last value.
func Aggregate(records []model.ResponseRecord) (Aggregation, error) {
	agg := Aggregation{
		Sessions: make(map[string]model.Session),
		Order:    []string{},
	}
	for i, rec := range records {
		sid := string(model.NormalizeID(string(rec.SessionID)))
		qid := string(model.NormalizeID(string(rec.QuestionID)))
		bad := func(reason string) error {
			return &MalformedRecordError{Index: i, SessionID: sid, QuestionID: qid, Reason: reason}
		}

		if sid == "" {
			return Aggregation{}, bad("missing session id")
		}
		if qid == "" {
			return Aggregation{}, bad("missing question id")
		}
		if rec.Timestamp.Unparsed != "" {
			return Aggregation{}, bad(fmt.Sprintf("unrecognized timestamp %q", rec.Timestamp.Unparsed))
		}
		if !rec.Timestamp.Valid() {
			return Aggregation{}, bad("missing timestamp")
		}
		value, err := coerceValue(rec)
		if err != nil {
			return Aggregation{}, bad(err.Error())
		}
		qnr := string(rec.QuestionnaireID)
		if qnr == "" {
			qnr = string(model.DefaultQuestionnaireID)
		}

		sess, ok := agg.Sessions[sid]
		if !ok {
			sess = model.Session{
				ID:              sid,
				Date:            rec.Timestamp.UTC(),
				QuestionnaireID: qnr,
				Responses:       make(map[string]int),
			}
			agg.Order = append(agg.Order, sid)
		} else {
			if !sess.Date.Equal(rec.Timestamp.Time) {
				return Aggregation{}, bad(fmt.Sprintf("timestamp %s differs from session timestamp %s",
					rec.Timestamp.UTC().Format(time.RFC3339), sess.Date.Format(time.RFC3339)))
			}
			if sess.QuestionnaireID != qnr {
				return Aggregation{}, bad(fmt.Sprintf("questionnaire %q differs from session questionnaire %q",
					qnr, sess.QuestionnaireID))
			}
		}
		sess.Responses[qid] = value
		agg.Sessions[sid] = sess
	}

	sort.SliceStable(agg.Order, func(i, j int) bool {
		return agg.Sessions[agg.Order[i]].Date.Before(agg.Sessions[agg.Order[j]].Date)
	})
	return agg, nil
}

func coerceValue(rec model.ResponseRecord) (int, error) {
	if rec.Value == "" {
		return 0, errors.New("missing response value")
	}
	n, err := rec.Value.Int64()
	if err != nil {
		// Whole floats such as 3.0 are accepted; 3.5 is not.
		f, ferr := rec.Value.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("response value %q is not an integer", rec.Value.String())
		}
		n = int64(f)
	}
	return int(n), nil
}
