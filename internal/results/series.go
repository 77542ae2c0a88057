package results

import (
	"strconv"

	"github.com/pavelanni/checkin/internal/model"
)

// DefaultOffset is the floor of the 10-item, 1..5 wellbeing instrument.
const DefaultOffset = 10

// Scoring selects the offset subtracted from each session's raw total.
type Scoring struct {
	DefaultOffset int
	// Offsets overrides DefaultOffset per questionnaire id.
	Offsets map[string]int
}

// DefaultScoring scores every questionnaire against DefaultOffset.
func DefaultScoring() Scoring {
	return Scoring{DefaultOffset: DefaultOffset}
}

// OffsetFor returns the offset configured for a questionnaire.
func (s Scoring) OffsetFor(questionnaireID string) int {
	if off, ok := s.Offsets[questionnaireID]; ok {
		return off
	}
	return s.DefaultOffset
}

// Score sums the answers present in sess and subtracts the offset.
// Unanswered questions add nothing; the result is never clamped.
func (s Scoring) Score(sess model.Session) int {
	total := 0
	for _, v := range sess.Responses {
		total += v
	}
	return total - s.OffsetFor(sess.QuestionnaireID)
}

// SeriesLabelFunc labels the session at a zero-based chart position.
type SeriesLabelFunc func(position int, sess model.Session) string

// OrdinalLabel labels points "Session 1", "Session 2", ...
func OrdinalLabel(position int, _ model.Session) string {
	return "Session " + strconv.Itoa(position+1)
}

// DatedLabel labels points "Session 1 (dd/mm/yy)".
func DatedLabel(position int, sess model.Session) string {
	return OrdinalLabel(position, sess) + " (" + FormatSessionDate(sess.Date) + ")"
}

// BuildScoreSeries scores each session in chronological order.
func BuildScoreSeries(agg Aggregation, scoring Scoring, label SeriesLabelFunc) model.ScoreSeries {
	if label == nil {
		label = OrdinalLabel
	}
	series := model.ScoreSeries{
		Labels:     make([]string, 0, len(agg.Order)),
		Scores:     make([]int, 0, len(agg.Order)),
		SessionIDs: make([]string, 0, len(agg.Order)),
	}
	for i, sid := range agg.Order {
		sess := agg.Sessions[sid]
		series.Labels = append(series.Labels, label(i, sess))
		series.Scores = append(series.Scores, scoring.Score(sess))
		series.SessionIDs = append(series.SessionIDs, sid)
	}
	return series
}
