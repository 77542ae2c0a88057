package results

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pavelanni/checkin/internal/model"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	policy := DefaultOutcomePolicy()

	tests := []struct {
		name        string
		scores      []int
		dates       []time.Time
		comparable  bool
		improved    bool
		significant bool
		recent      bool
		threshold   int
	}{
		{"no sessions", nil, nil, false, false, false, false, 0},
		{"single session", []int{25}, []time.Time{day(2024, 11, 1)}, false, false, false, false, 13},
		{"significant recent drop", []int{25, 20, 13}, []time.Time{day(2024, 1, 1), day(2024, 6, 1), day(2024, 11, 1)}, true, true, true, true, 13},
		{"improved below cutoff", []int{18, 2}, []time.Time{day(2024, 1, 1), day(2024, 11, 1)}, true, true, false, true, 6},
		{"drop of eleven", []int{30, 19}, []time.Time{day(2024, 1, 1), day(2024, 11, 1)}, true, true, false, true, 18},
		{"worse", []int{10, 15}, []time.Time{day(2024, 1, 1), day(2024, 11, 1)}, true, false, false, true, -2},
		{"old data", []int{30, 10}, []time.Time{day(2023, 1, 1), day(2023, 3, 1)}, true, true, true, false, 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := model.ScoreSeries{Scores: tt.scores}
			got := Summarize(series, tt.dates, now, policy)
			assert.Equal(t, tt.comparable, got.Comparable)
			assert.Equal(t, tt.improved, got.Improved)
			assert.Equal(t, tt.significant, got.ClinicallySignificant)
			assert.Equal(t, tt.recent, got.Recent)
			assert.Equal(t, tt.threshold, got.Threshold)
		})
	}
}

func TestCohort(t *testing.T) {
	assert.Equal(t, CohortMetrics{}, Cohort(nil))

	m := Cohort([]model.Outcome{
		{Comparable: true, Improved: true, ClinicallySignificant: true, Recent: true},
		{Comparable: true, Improved: true},
		{Comparable: true},
		{Comparable: false, Improved: true},
	})
	assert.Equal(t, 4, m.TotalSubjects)
	assert.InDelta(t, 50.0, m.PercentImproved, 1e-9)
	assert.InDelta(t, 25.0, m.PercentClinicallySignificant, 1e-9)
	assert.InDelta(t, 25.0, m.PercentImprovedRecent, 1e-9)
	assert.InDelta(t, 25.0, m.PercentClinicallySignificantRecent, 1e-9)
}
