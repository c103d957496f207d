package domain

import "time"

// State is the terminal state of a single report evaluation.
type State string

const (
	StatePending            State = "pending"
	StateSkippedAlreadyHeld State = "skipped_already_held"
	StateRewarded           State = "rewarded"
	StateCooldownCharged    State = "cooldown_charged"
	StateRejected           State = "rejected"
	// StateDropped means the report could not be fetched and nothing was charged.
	StateDropped State = "dropped"
)

// Outcome describes what an evaluation did.
type Outcome struct {
	EvaluationID string
	GuildID      string
	UserID       string
	State        State
	// Rank is the rank the report resolved to, if any.
	Rank string
	// RewardedRank is the rank whose role was granted, if any.
	RewardedRank string
	// Composite is the composite rank unlocked by this evaluation, if any.
	Composite string
	// MissingRole is the required role the user lacked, if that rejected the report.
	MissingRole  string
	Message      string
	NextEligible time.Time
}
