// Package export writes a subject's results as a JSON document to a local
// file, stdout or an S3 bucket.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
)

// Subject identifies whose results are exported.
type Subject struct {
	ID   string
	Name string
}

// Build assembles the export document from a computed report.
// answerLabel names answer values; nil leaves labels empty.
func Build(subject Subject, rep *results.Report, questions model.QuestionMap, scoring results.Scoring, answerLabel func(int) string, now time.Time) model.ResultsExport {
	doc := model.ResultsExport{
		ExportID:    uuid.NewString(),
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		GeneratedAt: now.UTC(),
		Offset:      scoring.DefaultOffset,
		Offsets:     scoring.Offsets,
		NumSessions: rep.Aggregation.Len(),
		Table:       rep.Table,
		Series:      rep.Series,
		Sessions:    []model.SessionExport{},
	}
	if rep.Empty {
		return doc
	}

	outcome := results.Summarize(rep.Series, rep.Aggregation.Dates(), now, results.DefaultOutcomePolicy())
	doc.Outcome = &outcome

	for _, sess := range rep.Aggregation.Ordered() {
		se := model.SessionExport{
			SessionID:       sess.ID,
			Date:            sess.Date,
			QuestionnaireID: sess.QuestionnaireID,
			Offset:          scoring.OffsetFor(sess.QuestionnaireID),
			Score:           scoring.Score(sess),
			Answers:         []model.AnswerExport{},
		}
		for _, row := range rep.Table.Rows {
			v, ok := sess.Responses[row.QuestionID]
			if !ok {
				continue
			}
			ae := model.AnswerExport{
				QuestionID:   row.QuestionID,
				QuestionText: row.QuestionText,
				Value:        v,
			}
			if text, ok := questions[row.QuestionID]; ok {
				ae.QuestionText = text
			}
			if answerLabel != nil {
				ae.Label = answerLabel(v)
			}
			se.Answers = append(se.Answers, ae)
		}
		doc.Sessions = append(doc.Sessions, se)
	}
	return doc
}

// Sink is a destination for one export document.
type Sink interface {
	// Put stores data and returns where it went.
	Put(ctx context.Context, data []byte) (string, error)
}

// Open picks a sink for target: "" or "-" is stdout, "s3://bucket/key" is
// an S3 object and anything else is a local file path.
func Open(ctx context.Context, target string, s3cfg S3Config) (Sink, error) {
	switch {
	case target == "" || target == "-":
		return WriterSink{W: os.Stdout, Name: "stdout"}, nil
	case strings.HasPrefix(target, "s3://"):
		bucket, key, err := ParseS3URL(target)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(ctx, s3cfg, bucket, key)
	default:
		return FileSink{Path: target}, nil
	}
}

// Write marshals doc and stores it in sink.
func Write(ctx context.Context, sink Sink, doc model.ResultsExport) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')
	loc, err := sink.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return loc, nil
}

// WriterSink writes to an io.Writer such as stdout.
type WriterSink struct {
	W    io.Writer
	Name string
}

func (s WriterSink) Put(_ context.Context, data []byte) (string, error) {
	if _, err := s.W.Write(data); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return s.Name, nil
}

// FileSink writes to a local file, replacing it.
type FileSink struct {
	Path string
}

func (s FileSink) Put(_ context.Context, data []byte) (string, error) {
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}
	return s.Path, nil
}
