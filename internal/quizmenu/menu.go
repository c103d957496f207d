// Package quizmenu serves the per-guild quiz selection menu.
package quizmenu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform"
)

const (
	// DefaultQuizBotID is the Kotoba bot account.
	DefaultQuizBotID = "251239170058616833"

	defaultPrompt = "Select a quiz to take:"
)

type Cooldowns interface {
	IsOnCooldown(ctx context.Context, guildID, userID, quizName string, requiresCooldown bool) (bool, time.Time, error)
}

type Workspaces interface {
	GetOrCreateWorkspace(ctx context.Context, guildID string, user domain.User, parentID string) (domain.Workspace, error)
	EnsureParticipants(ctx context.Context, ws domain.Workspace, userIDs ...string) error
}

type Config struct {
	Catalog    *catalog.Catalog
	Cooldown   Cooldowns
	Workspaces Workspaces
	Messenger  platform.Messenger
	QuizBotID  string
}

// Registry maps guild ids to their menus. It is built once and read-only afterwards.
type Registry struct {
	menus map[string]*Menu
}

func NewRegistry(c Config) *Registry {
	if c.QuizBotID == "" {
		c.QuizBotID = DefaultQuizBotID
	}

	r := &Registry{menus: make(map[string]*Menu)}
	for _, id := range c.Catalog.GuildIDs() {
		g, _ := c.Catalog.Guild(id)
		r.menus[id] = &Menu{
			guild:      g,
			cooldown:   c.Cooldown,
			workspaces: c.Workspaces,
			messenger:  c.Messenger,
			quizBotID:  c.QuizBotID,
		}
	}
	return r
}

func (r *Registry) Lookup(guildID string) (*Menu, bool) {
	m, ok := r.menus[guildID]
	return m, ok
}

type Option struct {
	Name  string
	Emoji string
}

type Menu struct {
	guild      *catalog.GuildCatalog
	cooldown   Cooldowns
	workspaces Workspaces
	messenger  platform.Messenger
	quizBotID  string
}

func (m *Menu) GuildID() string { return m.guild.ID() }

// Prompt is the text shown above the menu.
func (m *Menu) Prompt() string {
	if p := m.guild.Settings().QuizMenuMessage; p != "" {
		return p
	}
	return defaultPrompt
}

// Options lists the quizzes a member can pick, in catalog order.
func (m *Menu) Options() []Option {
	var out []Option
	for _, r := range m.guild.Ranks() {
		if r.Command == "" {
			continue
		}
		out = append(out, Option{Name: r.Name, Emoji: r.Emoji})
	}
	return out
}

type Selection struct {
	Rank         string
	OnCooldown   bool
	NextEligible time.Time
	Workspace    domain.Workspace
}

// Select prepares the user's workspace for rankName and posts the command to run there.
// A quiz on cooldown returns a Selection with OnCooldown set and nothing else happens.
func (m *Menu) Select(ctx context.Context, user domain.User, rankName string) (Selection, error) {
	r, ok := m.guild.Rank(rankName)
	if !ok || r.Command == "" {
		return Selection{}, errors.InvalidArgument("unknown quiz: %s", rankName)
	}

	sel := Selection{Rank: r.Name}

	on, next, err := m.cooldown.IsOnCooldown(ctx, m.guild.ID(), user.ID, r.Name, r.RequiresCooldown())
	if err != nil {
		return Selection{}, fmt.Errorf("quizmenu: cooldown: %w", err)
	}
	if on {
		sel.OnCooldown, sel.NextEligible = true, next
		return sel, nil
	}

	parent := m.guild.Settings().QuizChannel
	if parent == "" {
		return Selection{}, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("guild %s has no quiz channel", m.guild.ID()))
	}

	ws, err := m.workspaces.GetOrCreateWorkspace(ctx, m.guild.ID(), user, parent)
	if err != nil {
		return Selection{}, err
	}
	sel.Workspace = ws

	if err := m.workspaces.EnsureParticipants(ctx, ws, m.quizBotID, user.ID); err != nil {
		return Selection{}, err
	}

	intro := fmt.Sprintf("<@%s> To begin the %s quiz, copy and paste the following command exactly:", user.ID, r.Name)
	for _, text := range []string{intro, r.Command} {
		if err := m.messenger.SendMessage(ctx, ws.ID, text); err != nil {
			return Selection{}, fmt.Errorf("quizmenu: send: %w", err)
		}
	}

	slog.InfoContext(ctx, "quizmenu: quiz selected", "guild", m.guild.ID(), "user", user.ID, "quiz", r.Name, "workspace", ws.ID)
	return sel, nil
}
