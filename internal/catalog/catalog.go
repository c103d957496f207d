// Package catalog holds the immutable description of every rank per guild.
//
// A Catalog is loaded once at startup and injected into every component that
// needs it. Nothing mutates it afterwards, so it is safe for concurrent use.
package catalog

import (
	"slices"
	"sort"
	"strings"

	"github.com/victornm/levelup/internal/domain"
)

type Catalog struct {
	guilds map[string]*GuildCatalog
}

// Guild returns the catalog of a guild.
func (c *Catalog) Guild(id string) (*GuildCatalog, bool) {
	g, ok := c.guilds[id]
	return g, ok
}

// GuildIDs returns the configured guild ids in ascending order.
func (c *Catalog) GuildIDs() []string {
	ids := make([]string, 0, len(c.guilds))
	for id := range c.guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HierarchyEntry is a rank or composite rank that grants a role.
type HierarchyEntry struct {
	Name       string
	RewardRole string
	Group      string
	Level      int
	Composite  bool
}

// GuildCatalog is the rank structure of one guild.
type GuildCatalog struct {
	id         string
	settings   domain.GuildSettings
	ranks      []domain.Rank
	composites []domain.CompositeRank
	hierarchy  []HierarchyEntry
}

func (g *GuildCatalog) ID() string { return g.id }

func (g *GuildCatalog) Settings() domain.GuildSettings {
	s := g.settings
	s.RestrictedQuizNames = slices.Clone(s.RestrictedQuizNames)
	return s
}

// Ranks returns the quiz ranks in declaration order.
func (g *GuildCatalog) Ranks() []domain.Rank {
	out := make([]domain.Rank, len(g.ranks))
	for i, r := range g.ranks {
		out[i] = cloneRank(r)
	}
	return out
}

// Composites returns the composite ranks in declaration order.
func (g *GuildCatalog) Composites() []domain.CompositeRank {
	out := make([]domain.CompositeRank, len(g.composites))
	for i, c := range g.composites {
		c.RequiredQuizzes = slices.Clone(c.RequiredQuizzes)
		out[i] = c
	}
	return out
}

// Rank returns the quiz rank with the exact name.
func (g *GuildCatalog) Rank(name string) (domain.Rank, bool) {
	for _, r := range g.ranks {
		if r.Name == name {
			return cloneRank(r), true
		}
	}
	return domain.Rank{}, false
}

// RankFold returns the quiz rank whose name matches case-insensitively.
func (g *GuildCatalog) RankFold(name string) (domain.Rank, bool) {
	for _, r := range g.ranks {
		if strings.EqualFold(r.Name, name) {
			return cloneRank(r), true
		}
	}
	return domain.Rank{}, false
}

// HasName reports whether a quiz rank or composite rank carries the name.
func (g *GuildCatalog) HasName(name string) bool {
	if _, ok := g.Rank(name); ok {
		return true
	}
	for _, c := range g.composites {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ByCommand returns the quiz rank whose command equals content exactly.
func (g *GuildCatalog) ByCommand(content string) (domain.Rank, bool) {
	for _, r := range g.ranks {
		if r.Command != "" && r.Command == content {
			return cloneRank(r), true
		}
	}
	return domain.Rank{}, false
}

// Resolve finds the quiz rank played with exactly the given deck set and index mode.
// Deck signatures are unique per guild, enforced at load time.
func (g *GuildCatalog) Resolve(deckNames []string, indexed bool) (domain.Rank, bool) {
	if len(deckNames) == 0 || deckNames[0] == "" {
		return domain.Rank{}, false
	}

	played := signature(deckNames, indexed)
	for _, r := range g.ranks {
		if signature(r.Rules.Decks, r.Rules.Indexed()) == played {
			return cloneRank(r), true
		}
	}
	return domain.Rank{}, false
}

// Hierarchy returns every role-granting entry of the group.
func (g *GuildCatalog) Hierarchy(group string) []HierarchyEntry {
	var out []HierarchyEntry
	for _, e := range g.hierarchy {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

// AllRewardRoles returns every role granted by the guild's ranks.
func (g *GuildCatalog) AllRewardRoles() []HierarchyEntry {
	return slices.Clone(g.hierarchy)
}

// signature builds a comparable key from a deck set and index mode.
func signature(decks []string, indexed bool) string {
	set := make([]string, 0, len(decks))
	for _, d := range decks {
		if !slices.Contains(set, d) {
			set = append(set, d)
		}
	}
	sort.Strings(set)

	var b strings.Builder
	if indexed {
		b.WriteString("indexed|")
	} else {
		b.WriteString("plain|")
	}
	b.WriteString(strings.Join(set, "\x00"))
	return b.String()
}

func cloneRank(r domain.Rank) domain.Rank {
	r.Rules.Decks = slices.Clone(r.Rules.Decks)
	if r.Rules.DeckRange != nil {
		dr := *r.Rules.DeckRange
		r.Rules.DeckRange = &dr
	}
	return r
}
