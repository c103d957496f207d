// Package sqlite is a single-file store backed by the pure Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS quiz_attempts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id   TEXT    NOT NULL,
	user_id    TEXT    NOT NULL,
	quiz_name  TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS quiz_attempts_lookup ON quiz_attempts (guild_id, user_id, quiz_name, created_at);

CREATE TABLE IF NOT EXISTS passed_quizzes (
	guild_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	quiz_name TEXT NOT NULL,
	PRIMARY KEY (guild_id, user_id, quiz_name)
);

CREATE TABLE IF NOT EXISTS user_threads (
	user_id   TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL
);`

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to the database at dsn, applies pragmas and creates the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertAttempt(ctx context.Context, a domain.QuizAttempt) error {
	const stmt = `INSERT INTO quiz_attempts (guild_id, user_id, quiz_name, created_at) VALUES (?, ?, ?, ?);`

	if _, err := s.db.ExecContext(ctx, stmt, a.GuildID, a.UserID, a.QuizName, a.CreatedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *Store) LatestAttempt(ctx context.Context, guildID, userID, quizName string) (time.Time, bool, error) {
	const stmt = `
SELECT created_at FROM quiz_attempts
WHERE guild_id = ? AND user_id = ? AND quiz_name = ?
ORDER BY created_at DESC
LIMIT 1;`

	var ns int64
	err := s.db.QueryRowContext(ctx, stmt, guildID, userID, quizName).Scan(&ns)
	if stderrors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select latest attempt: %w", err)
	}
	return time.Unix(0, ns).UTC(), true, nil
}

func (s *Store) DeleteAttempts(ctx context.Context, guildID, userID, quizName string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if quizName == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM quiz_attempts WHERE guild_id = ? AND user_id = ?;`, guildID, userID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM quiz_attempts WHERE guild_id = ? AND user_id = ? AND quiz_name = ?;`, guildID, userID, quizName)
	}
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) InsertPassedQuizIfAbsent(ctx context.Context, p domain.PassedQuiz) (bool, error) {
	const stmt = `INSERT OR IGNORE INTO passed_quizzes (guild_id, user_id, quiz_name) VALUES (?, ?, ?);`

	res, err := s.db.ExecContext(ctx, stmt, p.GuildID, p.UserID, p.QuizName)
	if err != nil {
		return false, fmt.Errorf("insert passed quiz: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) PassedQuizzesFor(ctx context.Context, guildID, userID string) ([]string, error) {
	const stmt = `SELECT quiz_name FROM passed_quizzes WHERE guild_id = ? AND user_id = ? ORDER BY quiz_name;`

	rows, err := s.db.QueryContext(ctx, stmt, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("select passed quizzes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) PassedByUser(ctx context.Context, guildID string) (map[string][]string, error) {
	const stmt = `SELECT user_id, quiz_name FROM passed_quizzes WHERE guild_id = ? ORDER BY user_id, quiz_name;`

	rows, err := s.db.QueryContext(ctx, stmt, guildID)
	if err != nil {
		return nil, fmt.Errorf("select passes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var user, quiz string
		if err := rows.Scan(&user, &quiz); err != nil {
			return nil, err
		}
		out[user] = append(out[user], quiz)
	}
	return out, rows.Err()
}

func (s *Store) UpsertWorkspaceMapping(ctx context.Context, userID, workspaceID string) error {
	const stmt = `
INSERT INTO user_threads (user_id, thread_id) VALUES (?, ?)
ON CONFLICT (user_id) DO UPDATE SET thread_id = excluded.thread_id;`

	if _, err := s.db.ExecContext(ctx, stmt, userID, workspaceID); err != nil {
		return fmt.Errorf("upsert user thread: %w", err)
	}
	return nil
}

func (s *Store) WorkspaceMappingFor(ctx context.Context, userID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT thread_id FROM user_threads WHERE user_id = ?;`, userID).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select user thread: %w", err)
	}
	return id, true, nil
}

func (s *Store) DeleteWorkspaceMapping(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_threads WHERE user_id = ?;`, userID); err != nil {
		return fmt.Errorf("delete user thread: %w", err)
	}
	return nil
}
