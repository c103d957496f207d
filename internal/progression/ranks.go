package progression

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
)

type RankListing struct {
	Name         string
	Command      string
	RewardRole   string
	RequiredRole string
	Composite    bool
	// RequiredQuizzes is set on composite ranks.
	RequiredQuizzes []string
	OnCooldown      bool
	NextEligible    time.Time
}

// ListRanks lists every rank of the guild with the user's cooldown state.
func (e *Engine) ListRanks(ctx context.Context, guildID, userID string) ([]RankListing, error) {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return nil, errors.NotFound("guild %s is not configured", guildID)
	}

	now := e.cooldown.Now()
	var out []RankListing
	for _, r := range g.Ranks() {
		if r.Command == "" {
			continue
		}

		l := RankListing{
			Name:         r.Name,
			Command:      r.Command,
			RewardRole:   r.RewardRole,
			RequiredRole: r.RequiredRole,
		}

		on, next, err := e.cooldown.IsOnCooldownAt(ctx, guildID, userID, r.Name, r.RequiresCooldown(), now)
		if err != nil {
			return nil, fmt.Errorf("progression: cooldown of %s: %w", r.Name, err)
		}
		if on {
			l.OnCooldown, l.NextEligible = true, next
		}
		out = append(out, l)
	}

	for _, c := range g.Composites() {
		out = append(out, RankListing{
			Name:            c.Name,
			RewardRole:      c.RewardRole,
			Composite:       true,
			RequiredQuizzes: c.RequiredQuizzes,
		})
	}

	return out, nil
}

type RankTableEntry struct {
	Name       string
	RewardRole string
	Users      int
	// Percent is the share of ranked users, rounded to two places.
	Percent decimal.Decimal
}

type RankTable struct {
	GuildID     string
	Entries     []RankTableEntry
	RankedUsers int
}

var hundred = decimal.NewFromInt(100)

// Distribution reports how many users stand at each role-granting rank.
// A user counts once per hierarchy group, at the highest rank passed in it.
func (e *Engine) Distribution(ctx context.Context, guildID string) (RankTable, error) {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return RankTable{}, errors.NotFound("guild %s is not configured", guildID)
	}

	byUser, err := e.store.PassedByUser(ctx, guildID)
	if err != nil {
		return RankTable{}, fmt.Errorf("progression: passes: %w", err)
	}

	ranks := g.AllRewardRoles()
	counts := make([]int, len(ranks))
	ranked := 0
	for _, passed := range byUser {
		top := make(map[string]int)
		for i, h := range ranks {
			if !slices.Contains(passed, h.Name) {
				continue
			}
			if j, ok := top[h.Group]; !ok || h.Level > ranks[j].Level {
				top[h.Group] = i
			}
		}
		if len(top) == 0 {
			continue
		}

		ranked++
		for _, i := range top {
			counts[i]++
		}
	}

	t := RankTable{GuildID: guildID, RankedUsers: ranked}
	for i, h := range ranks {
		entry := RankTableEntry{
			Name:       h.Name,
			RewardRole: h.RewardRole,
			Users:      counts[i],
			Percent:    decimal.Zero,
		}
		if ranked > 0 {
			entry.Percent = decimal.NewFromInt(int64(entry.Users)).
				Mul(hundred).
				Div(decimal.NewFromInt(int64(ranked))).
				Round(2)
		}
		t.Entries = append(t.Entries, entry)
	}

	return t, nil
}

// ResetCooldown clears the user's attempts at quizName, or at every quiz when it is empty.
func (e *Engine) ResetCooldown(ctx context.Context, guildID, userID, quizName string) (int64, error) {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return 0, errors.NotFound("guild %s is not configured", guildID)
	}

	if quizName != "" {
		r, err := lookupQuiz(g, quizName)
		if err != nil {
			return 0, err
		}
		quizName = r.Name
	}

	return e.cooldown.ResetAttempts(ctx, guildID, userID, quizName)
}

type CooldownStatus struct {
	Quiz         string
	OnCooldown   bool
	NextEligible time.Time
}

// CooldownStatus reports whether the user may take quizName now.
func (e *Engine) CooldownStatus(ctx context.Context, guildID, userID, quizName string) (CooldownStatus, error) {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return CooldownStatus{}, errors.NotFound("guild %s is not configured", guildID)
	}

	r, err := lookupQuiz(g, quizName)
	if err != nil {
		return CooldownStatus{}, err
	}

	on, next, err := e.cooldown.IsOnCooldown(ctx, guildID, userID, r.Name, r.RequiresCooldown())
	if err != nil {
		return CooldownStatus{}, fmt.Errorf("progression: cooldown of %s: %w", r.Name, err)
	}
	return CooldownStatus{Quiz: r.Name, OnCooldown: on, NextEligible: next}, nil
}

// lookupQuiz matches the exact name first, then ignoring case.
func lookupQuiz(g *catalog.GuildCatalog, name string) (domain.Rank, error) {
	r, ok := g.Rank(name)
	if !ok {
		r, ok = g.RankFold(name)
	}
	if !ok {
		return domain.Rank{}, errors.InvalidArgument("invalid quiz name: %s", name)
	}
	return r, nil
}

// QuizNames returns the names of quizzes that charge cooldowns, for autocompletion.
func (e *Engine) QuizNames(guildID string) []string {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return nil
	}

	var names []string
	for _, r := range g.Ranks() {
		if r.RequiresCooldown() && !slices.Contains(names, r.Name) {
			names = append(names, r.Name)
		}
	}
	return names
}
