package domain

import "time"

const (
	EventNameRankAwarded       = "rank.awarded"
	EventNameCompositeUnlocked = "composite.unlocked"
	EventNameCooldownCharged   = "cooldown.charged"
	EventNameQuizRejected      = "quiz.rejected"
	EventNameWorkspaceSwept    = "workspace.swept"
)

// EventNames lists every event published by the service.
var EventNames = []string{
	EventNameRankAwarded,
	EventNameCompositeUnlocked,
	EventNameCooldownCharged,
	EventNameQuizRejected,
	EventNameWorkspaceSwept,
}

type EventRankAwarded struct {
	Outcome Outcome
}

func (EventRankAwarded) Name() string { return EventNameRankAwarded }

type EventCompositeUnlocked struct {
	GuildID   string
	UserID    string
	Composite string
}

func (EventCompositeUnlocked) Name() string { return EventNameCompositeUnlocked }

type EventCooldownCharged struct {
	Outcome Outcome
}

func (EventCooldownCharged) Name() string { return EventNameCooldownCharged }

type EventQuizRejected struct {
	Outcome Outcome
}

func (EventQuizRejected) Name() string { return EventNameQuizRejected }

type EventWorkspaceSwept struct {
	GuildID     string
	WorkspaceID string
	ParentID    string
	IdleSince   time.Time
}

func (EventWorkspaceSwept) Name() string { return EventNameWorkspaceSwept }
