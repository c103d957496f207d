// Package postgres is the production store backed by a pgx connection pool.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/store"
	"github.com/victornm/levelup/internal/store/postgres/migrations"
)

type Config struct {
	Addr string
	User string
	Pass string
	Name string
	// Options is appended to the connection URL, e.g. "sslmode=disable".
	Options string
}

// DSN returns the connection URL of c.
func (c Config) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name)
	if c.Options != "" {
		dsn += "?" + c.Options
	}
	return dsn
}

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens a pool and pings the database.
func Connect(ctx context.Context, c Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, dsn string) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if group.IsZero() {
		slog.InfoContext(ctx, "postgres: no new migrations")
		return nil
	}
	slog.InfoContext(ctx, "postgres: migrations applied", "group", group.String())
	return nil
}

func (s *Store) InsertAttempt(ctx context.Context, a domain.QuizAttempt) error {
	const stmt = `INSERT INTO quiz_attempts (guild_id, user_id, quiz_name, created_at) VALUES ($1, $2, $3, $4);`

	if _, err := s.db.Exec(ctx, stmt, a.GuildID, a.UserID, a.QuizName, a.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *Store) LatestAttempt(ctx context.Context, guildID, userID, quizName string) (time.Time, bool, error) {
	const stmt = `
SELECT created_at FROM quiz_attempts
WHERE guild_id = $1 AND user_id = $2 AND quiz_name = $3
ORDER BY created_at DESC
LIMIT 1;`

	var t time.Time
	err := s.db.QueryRow(ctx, stmt, guildID, userID, quizName).Scan(&t)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select latest attempt: %w", err)
	}
	return t.UTC(), true, nil
}

func (s *Store) DeleteAttempts(ctx context.Context, guildID, userID, quizName string) (int64, error) {
	const stmt = `
DELETE FROM quiz_attempts
WHERE guild_id = $1 AND user_id = $2 AND ($3 = '' OR quiz_name = $3);`

	tag, err := s.db.Exec(ctx, stmt, guildID, userID, quizName)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) InsertPassedQuizIfAbsent(ctx context.Context, p domain.PassedQuiz) (bool, error) {
	const stmt = `
INSERT INTO passed_quizzes (guild_id, user_id, quiz_name) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING;`

	tag, err := s.db.Exec(ctx, stmt, p.GuildID, p.UserID, p.QuizName)
	if err != nil {
		return false, fmt.Errorf("insert passed quiz: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) PassedQuizzesFor(ctx context.Context, guildID, userID string) ([]string, error) {
	const stmt = `SELECT quiz_name FROM passed_quizzes WHERE guild_id = $1 AND user_id = $2 ORDER BY quiz_name;`

	rows, err := s.db.Query(ctx, stmt, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("select passed quizzes: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect passed quizzes: %w", err)
	}
	return names, nil
}

func (s *Store) PassedByUser(ctx context.Context, guildID string) (map[string][]string, error) {
	const stmt = `SELECT user_id, quiz_name FROM passed_quizzes WHERE guild_id = $1 ORDER BY user_id, quiz_name;`

	type pass struct {
		user string
		quiz string
	}

	rows, err := s.db.Query(ctx, stmt, guildID)
	if err != nil {
		return nil, fmt.Errorf("select passes: %w", err)
	}

	passes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (pass, error) {
		var p pass
		err := r.Scan(&p.user, &p.quiz)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect passes: %w", err)
	}

	out := make(map[string][]string)
	for _, p := range passes {
		out[p.user] = append(out[p.user], p.quiz)
	}
	return out, nil
}

func (s *Store) UpsertWorkspaceMapping(ctx context.Context, userID, workspaceID string) error {
	const stmt = `
INSERT INTO user_threads (user_id, thread_id) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET thread_id = EXCLUDED.thread_id;`

	if _, err := s.db.Exec(ctx, stmt, userID, workspaceID); err != nil {
		return fmt.Errorf("upsert user thread: %w", err)
	}
	return nil
}

func (s *Store) WorkspaceMappingFor(ctx context.Context, userID string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(ctx, `SELECT thread_id FROM user_threads WHERE user_id = $1;`, userID).Scan(&id)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select user thread: %w", err)
	}
	return id, true, nil
}

func (s *Store) DeleteWorkspaceMapping(ctx context.Context, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM user_threads WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("delete user thread: %w", err)
	}
	return nil
}
