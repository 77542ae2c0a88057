package results

import (
	"time"

	"github.com/pavelanni/checkin/internal/model"
)

// OutcomePolicy holds the thresholds used to judge change over time.
type OutcomePolicy struct {
	// A first score above ClinicalCutoff counts as clinical range.
	ClinicalCutoff int
	// A drop of at least ReliableChange points is clinically significant.
	ReliableChange int
	// Sessions within RecentWindow of now count as recent.
	RecentWindow time.Duration
}

// DefaultOutcomePolicy returns the thresholds of the wellbeing instrument.
func DefaultOutcomePolicy() OutcomePolicy {
	return OutcomePolicy{
		ClinicalCutoff: 18,
		ReliableChange: 12,
		RecentWindow:   182 * 24 * time.Hour,
	}
}

// Summarize compares the first and latest points of a series. dates must
// be parallel to series.Scores. With fewer than two sessions the outcome
// is not comparable.
func Summarize(series model.ScoreSeries, dates []time.Time, now time.Time, p OutcomePolicy) model.Outcome {
	var out model.Outcome
	n := len(series.Scores)
	if n == 0 {
		return out
	}
	out.InitialScore = series.Scores[0]
	out.LatestScore = series.Scores[n-1]
	out.Threshold = out.InitialScore - p.ReliableChange
	if len(dates) == n {
		out.LatestAt = dates[n-1]
	}
	if n < 2 {
		return out
	}
	out.Comparable = true
	out.Improved = out.LatestScore < out.InitialScore
	out.ClinicallySignificant = out.InitialScore > p.ClinicalCutoff &&
		out.InitialScore-out.LatestScore >= p.ReliableChange
	out.Recent = !out.LatestAt.IsZero() && !out.LatestAt.Before(now.Add(-p.RecentWindow))
	return out
}

// CohortMetrics is the share of subjects that improved. Percentages use
// every subject as the denominator, including those with a single session.
type CohortMetrics struct {
	TotalSubjects                      int     `json:"total_subjects"`
	PercentImproved                    float64 `json:"percent_improved"`
	PercentClinicallySignificant       float64 `json:"percent_clinically_significant"`
	PercentImprovedRecent              float64 `json:"percent_improved_recent"`
	PercentClinicallySignificantRecent float64 `json:"percent_clinically_significant_recent"`
}

// Cohort aggregates per-subject outcomes.
func Cohort(outcomes []model.Outcome) CohortMetrics {
	m := CohortMetrics{TotalSubjects: len(outcomes)}
	if m.TotalSubjects == 0 {
		return m
	}
	var improved, significant, improvedRecent, significantRecent int
	for _, o := range outcomes {
		if !o.Comparable {
			continue
		}
		if o.Improved {
			improved++
		}
		if o.ClinicallySignificant {
			significant++
		}
		if o.Recent {
			if o.Improved {
				improvedRecent++
			}
			if o.ClinicallySignificant {
				significantRecent++
			}
		}
	}
	pct := func(n int) float64 { return float64(n) / float64(m.TotalSubjects) * 100 }
	m.PercentImproved = pct(improved)
	m.PercentClinicallySignificant = pct(significant)
	m.PercentImprovedRecent = pct(improvedRecent)
	m.PercentClinicallySignificantRecent = pct(significantRecent)
	return m
}
