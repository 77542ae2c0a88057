package model

import "time"

// ResultsExport is the top-level JSON structure for a results export.
type ResultsExport struct {
	ExportID    string          `json:"export_id"`
	SubjectID   string          `json:"subject_id"`
	SubjectName string          `json:"subject_name,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Offset      int             `json:"offset"`
	Offsets     map[string]int  `json:"offsets,omitempty"` // per questionnaire, overriding Offset
	NumSessions int             `json:"num_sessions"`
	Table       ResponseTable   `json:"table"`
	Series      ScoreSeries     `json:"series"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
	Sessions    []SessionExport `json:"sessions"`
}

// SessionExport holds one session's answers for export.
type SessionExport struct {
	SessionID       string         `json:"session_id"`
	Date            time.Time      `json:"date"`
	QuestionnaireID string         `json:"questionnaire_id"`
	Offset          int            `json:"offset"`
	Score           int            `json:"score"`
	Answers         []AnswerExport `json:"answers"`
}

// AnswerExport is a single exported answer.
type AnswerExport struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Value        int    `json:"value"`
	Label        string `json:"label"`
}

// Outcome summarizes one subject's change between first and latest session.
type Outcome struct {
	Comparable            bool      `json:"comparable"`
	InitialScore          int       `json:"initial_score"`
	LatestScore           int       `json:"latest_score"`
	LatestAt              time.Time `json:"latest_at"`
	Improved              bool      `json:"improved"`
	ClinicallySignificant bool      `json:"clinically_significant"`
	Recent                bool      `json:"recent"`
	// Threshold is the score a client must reach for a clinically
	// significant change; drawn as a line on the chart.
	Threshold int `json:"threshold"`
}
