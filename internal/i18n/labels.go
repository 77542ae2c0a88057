package i18n

import (
	"context"
	"strconv"

	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
)

// AnswerLabel names a point on the 1..5 answer scale.
func AnswerLabel(ctx context.Context, value int) string {
	if value < 1 || value > 5 {
		return T(ctx, "AnswerUnknown")
	}
	return T(ctx, "Answer"+strconv.Itoa(value))
}

// QuestionLabel returns the localized fallback label for questions the
// question map does not know.
func QuestionLabel(ctx context.Context) results.LabelFunc {
	return func(questionID string) string {
		return Td(ctx, "QuestionN", map[string]any{"ID": questionID})
	}
}

// SeriesLabel returns a localized "Session N" labeler. With dated set the
// session date is appended.
func SeriesLabel(ctx context.Context, dated bool) results.SeriesLabelFunc {
	if dated {
		return func(position int, sess model.Session) string {
			return Td(ctx, "SessionNDated", map[string]any{
				"N":    position + 1,
				"Date": results.FormatSessionDate(sess.Date),
			})
		}
	}
	return func(position int, _ model.Session) string {
		return Td(ctx, "SessionN", map[string]any{"N": position + 1})
	}
}
