package progression

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Denial names why a quiz command was refused.
type Denial string

const (
	DenyNone         Denial = ""
	DenyCooldown     Denial = "cooldown"
	DenyInexact      Denial = "inexact_command"
	DenyRestricted   Denial = "restricted"
	DenyWrongChannel Denial = "wrong_channel"
)

// DenialTimeout is how long a member is timed out after a refused command.
const DenialTimeout = 2 * time.Minute

type ScreenRequest struct {
	GuildID   string
	UserID    string
	ChannelID string
	Content   string
	// FromBot marks messages authored by bots, which are never screened.
	FromBot bool
}

type Verdict struct {
	Allowed bool
	Denial  Denial
	// Rank is the quiz the command starts, if it matched one exactly.
	Rank string
	// Restricted is the restricted quiz name found in the message.
	Restricted   string
	NextEligible time.Time
	Timeout      time.Duration
}

// Screen decides whether a member message that looks like a quiz command may proceed.
func (e *Engine) Screen(ctx context.Context, req ScreenRequest) (Verdict, error) {
	if req.FromBot || !strings.Contains(strings.ToLower(req.Content), strings.ToLower(e.marker)) {
		return Verdict{Allowed: true}, nil
	}

	g, ok := e.catalog.Guild(req.GuildID)
	if !ok {
		return Verdict{Allowed: true}, nil
	}

	var v Verdict
	lower := strings.ToLower(req.Content)
	for _, name := range g.Settings().RestrictedQuizNames {
		if strings.Contains(lower, strings.ToLower(name)) {
			v.Restricted = name
			break
		}
	}

	inWorkspace, err := e.workspaces.IsUserWorkspace(ctx, req.UserID, req.ChannelID)
	if err != nil {
		return Verdict{}, fmt.Errorf("progression: workspace lookup: %w", err)
	}

	rank, valid := g.ByCommand(req.Content)
	if valid {
		v.Rank = rank.Name

		on, next, err := e.cooldown.IsOnCooldown(ctx, req.GuildID, req.UserID, rank.Name, rank.RequiresCooldown())
		if err != nil {
			return Verdict{}, fmt.Errorf("progression: cooldown lookup: %w", err)
		}
		if on {
			return deny(v, DenyCooldown, next), nil
		}
	}

	switch {
	case inWorkspace && !valid:
		return deny(v, DenyInexact, time.Time{}), nil
	case v.Restricted != "" && (!inWorkspace || !valid):
		return deny(v, DenyRestricted, time.Time{}), nil
	case valid && !inWorkspace:
		return deny(v, DenyWrongChannel, time.Time{}), nil
	}

	v.Allowed = true
	return v, nil
}

func deny(v Verdict, d Denial, next time.Time) Verdict {
	v.Allowed = false
	v.Denial = d
	v.NextEligible = next
	v.Timeout = DenialTimeout
	return v
}
