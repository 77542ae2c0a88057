package results

import (
	"fmt"

	"github.com/pavelanni/checkin/internal/model"
)

// Options configures Compute. The zero value uses the default offset and
// English fallback labels.
type Options struct {
	Scoring       *Scoring
	QuestionLabel LabelFunc
	SeriesLabel   SeriesLabelFunc
}

// Report is everything a results page renders.
type Report struct {
	Aggregation Aggregation
	Table       model.ResponseTable
	Series      model.ScoreSeries
	// Empty is set when there were no sessions; render "no data", not a chart.
	Empty bool
}

// Compute runs aggregation, table projection and scoring over records.
// questions may be nil; missing labels degrade to fallbacks.
func Compute(records []model.ResponseRecord, questions model.QuestionMap, opts Options) (*Report, error) {
	agg, err := Aggregate(records)
	if err != nil {
		return nil, fmt.Errorf("aggregate responses: %w", err)
	}
	scoring := DefaultScoring()
	if opts.Scoring != nil {
		scoring = *opts.Scoring
	}
	return &Report{
		Aggregation: agg,
		Table:       ProjectTable(agg, questions, opts.QuestionLabel),
		Series:      BuildScoreSeries(agg, scoring, opts.SeriesLabel),
		Empty:       agg.Len() == 0,
	}, nil
}
