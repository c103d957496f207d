// Package memory is an in-process store used by tests and single-node runs
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/store"
)

type passedKey struct {
	guild, user, quiz string
}

type Store struct {
	mu       sync.RWMutex
	attempts []domain.QuizAttempt
	passed   map[passedKey]struct{}
	threads  map[string]string
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		passed:  make(map[passedKey]struct{}),
		threads: make(map[string]string),
	}
}

func (s *Store) InsertAttempt(_ context.Context, a domain.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, a)
	return nil
}

func (s *Store) LatestAttempt(_ context.Context, guildID, userID, quizName string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest time.Time
		found  bool
	)
	for _, a := range s.attempts {
		if a.GuildID != guildID || a.UserID != userID || a.QuizName != quizName {
			continue
		}
		if !found || a.CreatedAt.After(latest) {
			latest, found = a.CreatedAt, true
		}
	}
	return latest, found, nil
}

func (s *Store) DeleteAttempts(_ context.Context, guildID, userID, quizName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0]
	var n int64
	for _, a := range s.attempts {
		if a.GuildID == guildID && a.UserID == userID && (quizName == "" || a.QuizName == quizName) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return n, nil
}

func (s *Store) InsertPassedQuizIfAbsent(_ context.Context, p domain.PassedQuiz) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := passedKey{p.GuildID, p.UserID, p.QuizName}
	if _, ok := s.passed[k]; ok {
		return false, nil
	}
	s.passed[k] = struct{}{}
	return true, nil
}

func (s *Store) PassedQuizzesFor(_ context.Context, guildID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k := range s.passed {
		if k.guild == guildID && k.user == userID {
			out = append(out, k.quiz)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) PassedByUser(_ context.Context, guildID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string)
	for k := range s.passed {
		if k.guild == guildID {
			out[k.user] = append(out[k.user], k.quiz)
		}
	}
	for _, quizzes := range out {
		sort.Strings(quizzes)
	}
	return out, nil
}

func (s *Store) UpsertWorkspaceMapping(_ context.Context, userID, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[userID] = workspaceID
	return nil
}

func (s *Store) WorkspaceMappingFor(_ context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.threads[userID]
	return id, ok, nil
}

func (s *Store) DeleteWorkspaceMapping(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, userID)
	return nil
}

func (*Store) Close() error { return nil }
