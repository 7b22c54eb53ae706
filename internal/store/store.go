package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pavelanni/quizgen/internal/model"

	_ "modernc.org/sqlite"
)

// DefaultMaxResultsPerSession bounds how many results a session keeps.
const DefaultMaxResultsPerSession = 100

// Store keeps graded results and import bookkeeping in SQLite.
type Store struct {
	db         *sql.DB
	maxResults int
}

// New opens or creates the database at dbPath and applies the schema.
// ":memory:" opens a private in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, maxResults: DefaultMaxResultsPerSession}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// dsn builds the modernc.org/sqlite connection string. The pragmas run on
// every new connection of the pool; transactions take the write lock at
// BEGIN so concurrent writers wait on busy_timeout instead of failing.
func dsn(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	if dbPath != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	q.Set("_txlock", "immediate")
	return dbPath + "?" + q.Encode()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetMaxResultsPerSession sets the per-session retention. Zero or less keeps
// every result.
func (s *Store) SetMaxResultsPerSession(n int) {
	s.maxResults = n
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		lecture TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		student_labels TEXT NOT NULL DEFAULT '[]',
		student_texts TEXT NOT NULL DEFAULT '[]',
		correct_labels TEXT NOT NULL DEFAULT '[]',
		correct_texts TEXT NOT NULL DEFAULT '[]',
		score REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id, id);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertResult stores a graded answer and prunes the session's oldest
// results beyond the retention limit.
func (s *Store) InsertResult(r model.Result) (int64, error) {
	studentLabels, err := encodeList(r.StudentLabels)
	if err != nil {
		return 0, err
	}
	studentTexts, err := encodeList(r.StudentAnswerTexts)
	if err != nil {
		return 0, err
	}
	correctLabels, err := encodeList(r.CorrectLabels)
	if err != nil {
		return 0, err
	}
	correctTexts, err := encodeList(r.CorrectAnswerTexts)
	if err != nil {
		return 0, err
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO results (session_id, lecture, topic, student_labels, student_texts, correct_labels, correct_texts, score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Lecture, r.Topic, studentLabels, studentTexts, correctLabels, correctTexts, r.Score, createdAt,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.maxResults > 0 {
		_, err := tx.Exec(
			`DELETE FROM results WHERE session_id = ? AND id NOT IN (
				SELECT id FROM results WHERE session_id = ? ORDER BY id DESC LIMIT ?
			)`,
			r.SessionID, r.SessionID, s.maxResults,
		)
		if err != nil {
			return 0, fmt.Errorf("prune results: %w", err)
		}
	}

	return id, tx.Commit()
}

// ListResults returns a session's results, oldest first.
func (s *Store) ListResults(sessionID string) ([]model.Result, error) {
	return s.queryResults(`WHERE session_id = ? ORDER BY id`, sessionID)
}

// ListAllResults returns every stored result grouped by session.
func (s *Store) ListAllResults() ([]model.Result, error) {
	return s.queryResults(`ORDER BY session_id, id`)
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}

// DeleteSessionResults removes a session's results.
func (s *Store) DeleteSessionResults(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM results WHERE session_id = ?`, sessionID)
	return err
}

func (s *Store) queryResults(clause string, args ...any) ([]model.Result, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, lecture, topic, student_labels, student_texts, correct_labels, correct_texts, score, created_at
		 FROM results `+clause, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.Result
	for rows.Next() {
		var r model.Result
		var studentLabels, studentTexts, correctLabels, correctTexts string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Lecture, &r.Topic,
			&studentLabels, &studentTexts, &correctLabels, &correctTexts, &r.Score, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeLists(
			[]string{studentLabels, studentTexts, correctLabels, correctTexts},
			[]*[]string{&r.StudentLabels, &r.StudentAnswerTexts, &r.CorrectLabels, &r.CorrectAnswerTexts},
		); err != nil {
			return nil, fmt.Errorf("result %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeLists(raw []string, dst []*[]string) error {
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), dst[i]); err != nil {
			return fmt.Errorf("decode list: %w", err)
		}
	}
	return nil
}
