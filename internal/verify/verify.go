// Package verify judges a finished quiz report against a rank's acceptance rules.
package verify

import (
	"fmt"

	"github.com/victornm/levelup/internal/domain"
)

// Check names the rule a report failed.
type Check string

const (
	CheckNone           Check = ""
	CheckParticipants   Check = "participants"
	CheckShuffle        Check = "shuffle"
	CheckLoaded         Check = "loaded"
	CheckMultipleChoice Check = "multiple_choice"
	CheckIndexRange     Check = "index_range"
	CheckForeground     Check = "foreground"
	CheckEffect         Check = "effect"
	CheckScoreLimit     Check = "score_limit"
	CheckAnswerTime     Check = "answer_time"
	CheckFont           Check = "font"
	CheckMissed         Check = "missed"
	CheckScore          Check = "score"
)

type Result struct {
	OK      bool
	Reason  string
	Failure Check
}

func fail(c Check, format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...), Failure: c}
}

// Verify runs the checks in a fixed order and reports the first failure.
// It has no side effects.
func Verify(rules domain.QuizRules, rankName string, report domain.QuizReport) Result {
	switch n := len(report.Participants); {
	case n > 1:
		return fail(CheckParticipants, "Quiz failed due to multiple people participating.")
	case n == 0:
		return fail(CheckParticipants, "Quiz failed due to nobody participating.")
	}

	if !report.Settings.Shuffle {
		return fail(CheckShuffle, "Quiz failed due to the shuffle setting being activated.")
	}

	if report.Loaded {
		return fail(CheckLoaded, "Quiz failed due to being loaded.")
	}

	for _, d := range report.Decks {
		if d.MultipleChoice {
			return fail(CheckMultipleChoice, "Quiz failed due to being set to multiple choice.")
		}
	}

	if r := checkIndexRange(rules.DeckRange, report.Decks); !r.OK {
		return r
	}

	if rules.Foreground != "" && report.Settings.FontColor != rules.Foreground {
		return fail(CheckForeground, "Foreground color does not match required color.")
	}

	if rules.Effect != "" && report.Settings.Effect != rules.Effect {
		return fail(CheckEffect, "Effect does not match required effect.")
	}

	if report.Settings.ScoreLimit != rules.ScoreLimit {
		return fail(CheckScoreLimit, "Set score limit and required score limit don't match.")
	}

	if report.Settings.AnswerTimeLimitMs > rules.TimeLimitMs {
		return fail(CheckAnswerTime, "Set answer time exceeds required answer time.")
	}

	if rules.Font != "" && report.Settings.Font != rules.Font {
		return fail(CheckFont, "Set font does not match required font.")
	}
	if rules.FontSize != 0 && report.Settings.FontSize != rules.FontSize {
		return fail(CheckFont, "Set font size does not match required font size.")
	}

	score := report.ScoreOf(report.Participants[0])
	if missed := report.QuestionCount - score; missed >= rules.MaxMissed {
		return fail(CheckMissed, "Failed too many questions. Score: %d out of %d.", score, rules.ScoreLimit)
	}

	if score != rules.ScoreLimit {
		return fail(CheckScore, "Not enough questions answered. Score: %d out of %d.", score, rules.ScoreLimit)
	}

	return Result{OK: true, Reason: fmt.Sprintf("Passed the %s quiz!", rankName)}
}

func checkIndexRange(want *domain.IndexRange, decks []domain.Deck) Result {
	if want != nil {
		for _, d := range decks {
			if d.StartIndex == nil {
				return fail(CheckIndexRange, "Quiz failed due to not having an index specified.")
			}
			if *d.StartIndex != want.Start {
				return fail(CheckIndexRange, "Quiz failed due to having the wrong start index.")
			}
			if d.EndIndex == nil {
				return fail(CheckIndexRange, "Quiz failed due to not having an index specified.")
			}
			if *d.EndIndex != want.End {
				return fail(CheckIndexRange, "Quiz failed due to having the wrong end index.")
			}
		}
		return Result{OK: true}
	}

	for _, d := range decks {
		if d.StartIndex != nil && *d.StartIndex != 0 {
			return fail(CheckIndexRange, "Quiz failed due to having a start index.")
		}
		if d.EndIndex != nil && *d.EndIndex != 0 {
			return fail(CheckIndexRange, "Quiz failed due to having an end index.")
		}
	}
	return Result{OK: true}
}
