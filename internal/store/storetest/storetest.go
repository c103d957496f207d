// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/store"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("attempts", func(t *testing.T) { testAttempts(t, newStore(t)) })
	t.Run("passed quizzes", func(t *testing.T) { testPassed(t, newStore(t)) })
	t.Run("workspace mapping", func(t *testing.T) { testMapping(t, newStore(t)) })
	t.Run("concurrent passed insert", func(t *testing.T) { testConcurrentPassed(t, newStore(t)) })
}

func testAttempts(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	_, ok, err := s.LatestAttempt(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	require.False(t, ok)

	for _, a := range []domain.QuizAttempt{
		{GuildID: "g1", UserID: "u1", QuizName: "Gold", CreatedAt: base},
		{GuildID: "g1", UserID: "u1", QuizName: "Gold", CreatedAt: base.Add(48 * time.Hour)},
		{GuildID: "g1", UserID: "u1", QuizName: "Gold", CreatedAt: base.Add(24 * time.Hour)},
		// identical rows are never deduplicated
		{GuildID: "g1", UserID: "u1", QuizName: "Gold", CreatedAt: base},
		{GuildID: "g1", UserID: "u1", QuizName: "Silver", CreatedAt: base.Add(72 * time.Hour)},
		{GuildID: "g2", UserID: "u1", QuizName: "Gold", CreatedAt: base.Add(96 * time.Hour)},
	} {
		require.NoError(t, s.InsertAttempt(ctx, a))
	}

	last, ok, err := s.LatestAttempt(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(base.Add(48*time.Hour)), "got %s", last)

	n, err := s.DeleteAttempts(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	_, ok, err = s.LatestAttempt(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.LatestAttempt(ctx, "g1", "u1", "Silver")
	require.NoError(t, err)
	assert.True(t, ok, "other quizzes are kept")

	n, err = s.DeleteAttempts(ctx, "g1", "u1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, err = s.LatestAttempt(ctx, "g2", "u1", "Gold")
	require.NoError(t, err)
	assert.True(t, ok, "other guilds are kept")
}

func testPassed(t *testing.T, s store.Store) {
	ctx := context.Background()

	inserted, err := s.InsertPassedQuizIfAbsent(ctx, domain.PassedQuiz{GuildID: "g1", UserID: "u1", QuizName: "Gold"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertPassedQuizIfAbsent(ctx, domain.PassedQuiz{GuildID: "g1", UserID: "u1", QuizName: "Gold"})
	require.NoError(t, err)
	assert.False(t, inserted)

	for _, p := range []domain.PassedQuiz{
		{GuildID: "g1", UserID: "u1", QuizName: "Bronze"},
		{GuildID: "g1", UserID: "u2", QuizName: "Gold"},
		{GuildID: "g2", UserID: "u3", QuizName: "Gold"},
	} {
		_, err := s.InsertPassedQuizIfAbsent(ctx, p)
		require.NoError(t, err)
	}

	quizzes, err := s.PassedQuizzesFor(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Gold", "Bronze"}, quizzes)

	quizzes, err = s.PassedQuizzesFor(ctx, "g1", "nobody")
	require.NoError(t, err)
	assert.Empty(t, quizzes)

	byUser, err := s.PassedByUser(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"u1": {"Bronze", "Gold"},
		"u2": {"Gold"},
	}, byUser)
}

func testMapping(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, ok, err := s.WorkspaceMappingFor(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertWorkspaceMapping(ctx, "u1", "t1"))
	require.NoError(t, s.UpsertWorkspaceMapping(ctx, "u1", "t2"))

	id, ok, err := s.WorkspaceMappingFor(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t2", id)

	require.NoError(t, s.DeleteWorkspaceMapping(ctx, "u1"))
	require.NoError(t, s.DeleteWorkspaceMapping(ctx, "u1"))

	_, ok, err = s.WorkspaceMappingFor(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentPassed(t *testing.T, s store.Store) {
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertPassedQuizIfAbsent(ctx, domain.PassedQuiz{GuildID: "g1", UserID: "u1", QuizName: "Gold"})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
}
