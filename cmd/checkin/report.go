package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pavelanni/checkin/internal/export"
	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
)

var timeNow = time.Now

func heading(subject export.Subject) string {
	if subject.Name == "" {
		return "== " + subject.ID + " =="
	}
	return fmt.Sprintf("== %s (%s) ==", subject.Name, subject.ID)
}

// printReport writes the response table with one column per session,
// followed by the score row and the outcome.
func printReport(ctx context.Context, w io.Writer, subject export.Subject, rep *results.Report, outcome *model.Outcome) error {
	fmt.Fprintln(w, heading(subject))
	if rep.Empty {
		fmt.Fprintln(w, appI18n.T(ctx, "NoCheckins"))
		fmt.Fprintln(w)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "QUESTION\t%s\n", strings.Join(rep.Table.SessionDates, "\t"))
	for _, row := range rep.Table.Rows {
		fmt.Fprintf(tw, "%s\t%s\n", row.QuestionText, strings.Join(row.Responses, "\t"))
	}
	scores := make([]string, len(rep.Series.Scores))
	for i, s := range rep.Series.Scores {
		scores[i] = strconv.Itoa(s)
	}
	fmt.Fprintf(tw, "SCORE\t%s\n", strings.Join(scores, "\t"))
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	fmt.Fprintln(w, appI18n.Tp(ctx, "SessionsCompleted", rep.Aggregation.Len()))
	if outcome != nil && outcome.Comparable {
		var notes []string
		if outcome.Improved {
			notes = append(notes, "improved")
		} else {
			notes = append(notes, "not improved")
		}
		if outcome.ClinicallySignificant {
			notes = append(notes, "clinically significant")
		}
		fmt.Fprintf(w, "outcome: %s (%d -> %d, threshold %d)\n",
			strings.Join(notes, ", "), outcome.InitialScore, outcome.LatestScore, outcome.Threshold)
	}
	fmt.Fprintln(w)
	return nil
}

func printFailure(ctx context.Context, w io.Writer, sr subjectReport) {
	fmt.Fprintln(w, heading(sr.subject))
	if errors.Is(sr.err, results.ErrDataIntegrity) {
		fmt.Fprintln(w, appI18n.T(ctx, "ResultsUnavailable"))
	} else {
		fmt.Fprintln(w, appI18n.T(ctx, "FetchFailed"))
	}
	fmt.Fprintln(w)
}

func printCohort(w io.Writer, m results.CohortMetrics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "clients\t%d\n", m.TotalSubjects)
	fmt.Fprintf(tw, "improved\t%.1f%%\n", m.PercentImproved)
	fmt.Fprintf(tw, "clinically significant\t%.1f%%\n", m.PercentClinicallySignificant)
	fmt.Fprintf(tw, "improved (last 6 months)\t%.1f%%\n", m.PercentImprovedRecent)
	fmt.Fprintf(tw, "clinically significant (last 6 months)\t%.1f%%\n", m.PercentClinicallySignificantRecent)
	_ = tw.Flush()
}
