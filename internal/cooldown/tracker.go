// Package cooldown keeps the attempt history of cooldown-bearing quizzes and
// computes the weekly retry windows derived from it.
package cooldown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/levelup/internal/domain"
)

// AttemptStore persists failed attempts. Rows are append-only.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, a domain.QuizAttempt) error
	// LatestAttempt returns the most recent attempt time, or ok=false if there is none.
	LatestAttempt(ctx context.Context, guildID, userID, quizName string) (t time.Time, ok bool, err error)
	// DeleteAttempts removes the matching rows. An empty quizName matches every quiz.
	DeleteAttempts(ctx context.Context, guildID, userID, quizName string) (int64, error)
}

type Config struct {
	Store AttemptStore
	// Now defaults to time.Now.
	Now func() time.Time
}

type Tracker struct {
	store AttemptStore
	now   func() time.Time
}

func NewTracker(c Config) *Tracker {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		store: c.Store,
		now:   now,
	}
}

// Now returns the tracker's clock reading in UTC.
func (t *Tracker) Now() time.Time {
	return t.now().UTC()
}

// RecordAttempt appends a failed attempt and returns the next eligible time.
func (t *Tracker) RecordAttempt(ctx context.Context, guildID, userID, quizName string, at time.Time) (time.Time, error) {
	at = at.UTC()
	err := t.store.InsertAttempt(ctx, domain.QuizAttempt{
		GuildID:   guildID,
		UserID:    userID,
		QuizName:  quizName,
		CreatedAt: at,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("insert attempt: %w", err)
	}

	slog.InfoContext(ctx, "cooldown: attempt recorded", "guild", guildID, "user", userID, "quiz", quizName)
	return NextBoundary(at), nil
}

func (t *Tracker) LastAttempt(ctx context.Context, guildID, userID, quizName string) (time.Time, bool, error) {
	last, ok, err := t.store.LatestAttempt(ctx, guildID, userID, quizName)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest attempt: %w", err)
	}
	return last, ok, nil
}

// IsOnCooldown reports whether the user must wait before retrying the quiz,
// evaluated at the tracker's current time.
func (t *Tracker) IsOnCooldown(ctx context.Context, guildID, userID, quizName string, requiresCooldown bool) (bool, time.Time, error) {
	return t.IsOnCooldownAt(ctx, guildID, userID, quizName, requiresCooldown, t.Now())
}

// IsOnCooldownAt is IsOnCooldown evaluated at now.
// nextEligible is zero when the user has no charged attempt.
func (t *Tracker) IsOnCooldownAt(ctx context.Context, guildID, userID, quizName string, requiresCooldown bool, now time.Time) (onCooldown bool, nextEligible time.Time, err error) {
	if !requiresCooldown {
		return false, time.Time{}, nil
	}

	last, ok, err := t.LastAttempt(ctx, guildID, userID, quizName)
	if err != nil {
		return false, time.Time{}, err
	}
	if !ok {
		return false, time.Time{}, nil
	}

	next := NextBoundary(last)
	return now.Before(next), next, nil
}

// ResetAttempts clears the attempt history. An empty quizName clears every quiz.
func (t *Tracker) ResetAttempts(ctx context.Context, guildID, userID, quizName string) (int64, error) {
	n, err := t.store.DeleteAttempts(ctx, guildID, userID, quizName)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}

	slog.InfoContext(ctx, "cooldown: attempts reset", "guild", guildID, "user", userID, "quiz", quizName, "deleted", n)
	return n, nil
}

// NextBoundary returns the first Sunday 00:00 UTC after t.
// An attempt made on a Sunday waits for the following one, so a window is never empty.
func NextBoundary(t time.Time) time.Time {
	t = t.UTC()

	// Monday = 0 ... Sunday = 6
	weekday := (int(t.Weekday()) + 6) % 7
	days := (6 - weekday) % 7
	if days == 0 {
		days = 7
	}

	d := t.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
