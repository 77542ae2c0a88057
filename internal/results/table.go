package results

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pavelanni/checkin/internal/model"
)

// LabelFunc produces the row label for a question id missing from the
// question map.
type LabelFunc func(questionID string) string

// FallbackLabel is the default label for an unknown question.
func FallbackLabel(questionID string) string {
	return "Question " + questionID
}

// FormatSessionDate renders t as dd/mm/yy in UTC.
func FormatSessionDate(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%02d/%02d/%02d", t.Day(), int(t.Month()), t.Year()%100)
}

// QuestionIDs returns every question id answered in any session, in the
// order first seen while walking sessions chronologically.
func QuestionIDs(agg Aggregation) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, sid := range agg.Order {
		sess := agg.Sessions[sid]
		for _, qid := range sortedKeys(sess.Responses) {
			if !seen[qid] {
				seen[qid] = true
				ids = append(ids, qid)
			}
		}
	}
	return ids
}

// ProjectTable transposes sessions into one row per question with one
// cell per session. Unanswered cells hold model.MissingAnswer.
func ProjectTable(agg Aggregation, questions model.QuestionMap, fallback LabelFunc) model.ResponseTable {
	if fallback == nil {
		fallback = FallbackLabel
	}
	table := model.ResponseTable{
		Rows:         []model.TableRow{},
		SessionDates: make([]string, 0, len(agg.Order)),
		SessionIDs:   make([]string, 0, len(agg.Order)),
	}
	for _, sid := range agg.Order {
		table.SessionIDs = append(table.SessionIDs, sid)
		table.SessionDates = append(table.SessionDates, FormatSessionDate(agg.Sessions[sid].Date))
	}

	for _, qid := range QuestionIDs(agg) {
		row := model.TableRow{
			QuestionID: qid,
			Responses:  make([]string, 0, len(agg.Order)),
		}
		if text, ok := questions[qid]; ok && text != "" {
			row.QuestionText = text
		} else {
			row.QuestionText = fallback(qid)
			row.Unlabeled = true
		}
		for _, sid := range agg.Order {
			if v, ok := agg.Sessions[sid].Responses[qid]; ok {
				row.Responses = append(row.Responses, strconv.Itoa(v))
			} else {
				row.Responses = append(row.Responses, model.MissingAnswer)
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// sortedKeys orders question ids numerically when both are integers and
// lexically otherwise, so "2" sorts before "10".
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessID(keys[i], keys[j])
	})
	return keys
}

func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
