package domain

import (
	"time"
)

// IndexRange is an inclusive deck index range a quiz must be played with.
type IndexRange struct {
	Start int
	End   int
}

// QuizRules are the acceptance rules of a single quiz rank.
type QuizRules struct {
	ScoreLimit  int
	MaxMissed   int
	TimeLimitMs int
	Font        string
	FontSize    int
	Foreground  string
	Effect      string
	Decks       []string
	DeckRange   *IndexRange
}

// Indexed reports whether the rules require a deck index range.
func (r QuizRules) Indexed() bool {
	return r.DeckRange != nil
}

// Rank is a quiz rank definition. It is immutable once loaded.
type Rank struct {
	Name           string
	Command        string
	Emoji          string
	RewardRole     string
	RequiredRole   string
	CooldownExempt bool
	Group          string
	Level          int
	Rules          QuizRules
}

// RequiresCooldown reports whether failed attempts at the rank are charged.
func (r Rank) RequiresCooldown() bool {
	return !r.CooldownExempt
}

// CompositeRank is granted once every quiz in RequiredQuizzes has been passed.
type CompositeRank struct {
	Name            string
	RewardRole      string
	Group           string
	Level           int
	RequiredQuizzes []string
}

// GuildSettings are the per-guild channel settings.
type GuildSettings struct {
	AnnounceChannel     string
	QuizChannel         string
	RestrictedQuizNames []string
	QuizMenuMessage     string
}

// QuizAttempt is one failed, cooldown-charging attempt. Attempts are append-only.
type QuizAttempt struct {
	GuildID   string
	UserID    string
	QuizName  string
	CreatedAt time.Time
}

// PassedQuiz records that a user has passed a quiz at least once.
type PassedQuiz struct {
	GuildID  string
	UserID   string
	QuizName string
}

// QuizReport is a finished game report as published by the quiz service.
type QuizReport struct {
	ID            string
	Participants  []string
	Scores        map[string]int
	QuestionCount int
	Settings      ReportSettings
	Loaded        bool
	Decks         []Deck
}

// ScoreOf returns the score achieved by the user, or zero.
func (r QuizReport) ScoreOf(userID string) int {
	return r.Scores[userID]
}

// DeckNames returns the short names of the played decks in report order.
func (r QuizReport) DeckNames() []string {
	names := make([]string, 0, len(r.Decks))
	for _, d := range r.Decks {
		names = append(names, d.ShortName)
	}
	return names
}

// Indexed reports whether the first deck was played with a start index.
func (r QuizReport) Indexed() bool {
	return len(r.Decks) > 0 && r.Decks[0].StartIndex != nil && *r.Decks[0].StartIndex != 0
}

// ReportSettings is the settings block of a quiz report.
type ReportSettings struct {
	Shuffle           bool
	Font              string
	FontSize          int
	FontColor         string
	Effect            string
	ScoreLimit        int
	AnswerTimeLimitMs int
}

// Deck is a deck played in a quiz.
type Deck struct {
	ShortName      string
	MultipleChoice bool
	StartIndex     *int
	EndIndex       *int
}

// Workspace is an ephemeral thread a user takes quizzes in.
type Workspace struct {
	ID            string
	ParentID      string
	Name          string
	Archived      bool
	Locked        bool
	CreatedAt     time.Time
	LastMessageID string
	// LastMessageAt is set when the platform has the last message cached.
	LastMessageAt *time.Time
	Members       []string
}

// HasMember reports whether the user is a member of the workspace.
func (w Workspace) HasMember(userID string) bool {
	for _, m := range w.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// User identifies a guild member.
type User struct {
	ID   string
	Name string
}
