// Package store defines the persistence operations shared by every backend.
//
// All writes are idempotent upserts or conflict-safe appends, so callers need
// no locking of their own.
package store

import (
	"context"
	"time"

	"github.com/victornm/levelup/internal/domain"
)

type Store interface {
	InsertAttempt(ctx context.Context, a domain.QuizAttempt) error
	LatestAttempt(ctx context.Context, guildID, userID, quizName string) (time.Time, bool, error)
	DeleteAttempts(ctx context.Context, guildID, userID, quizName string) (int64, error)

	// InsertPassedQuizIfAbsent reports whether a new row was written.
	InsertPassedQuizIfAbsent(ctx context.Context, p domain.PassedQuiz) (bool, error)
	PassedQuizzesFor(ctx context.Context, guildID, userID string) ([]string, error)
	// PassedByUser maps each user of the guild to the quizzes they passed.
	PassedByUser(ctx context.Context, guildID string) (map[string][]string, error)

	UpsertWorkspaceMapping(ctx context.Context, userID, workspaceID string) error
	WorkspaceMappingFor(ctx context.Context, userID string) (string, bool, error)
	DeleteWorkspaceMapping(ctx context.Context, userID string) error

	Close() error
}
