// Package store keeps the client's local session context in SQLite:
// signed-in identities, a little metadata and a cache of questionnaire
// text used when the API cannot be reached.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/checkin/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Every new connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		device_token TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_identities_user ON identities(user_id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cached_questions (
		questionnaire_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		text TEXT NOT NULL,
		position INTEGER NOT NULL,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (questionnaire_id, question_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveQuestions replaces the cached text of a questionnaire.
func (s *Store) SaveQuestions(questionnaireID string, questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cached_questions WHERE questionnaire_id = ?`, questionnaireID); err != nil {
		return fmt.Errorf("clear cached questions: %w", err)
	}
	now := time.Now()
	for i, q := range questions {
		id := model.NormalizeID(string(q.ID))
		if id == "" {
			continue
		}
		_, err := tx.Exec(
			`INSERT INTO cached_questions (questionnaire_id, question_id, text, position, fetched_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(questionnaire_id, question_id) DO UPDATE SET text = excluded.text, position = excluded.position`,
			questionnaireID, id, q.Text, i, now,
		)
		if err != nil {
			return fmt.Errorf("cache question %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CachedQuestions returns the cached questions of a questionnaire in their
// insertion order. An unknown questionnaire yields an empty slice.
func (s *Store) CachedQuestions(questionnaireID string) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT question_id, text FROM cached_questions WHERE questionnaire_id = ? ORDER BY position`,
		questionnaireID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var id string
		if err := rows.Scan(&id, &q.Text); err != nil {
			return nil, err
		}
		q.ID = model.ID(id)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
