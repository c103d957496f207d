package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/victornm/levelup/internal/domain"
)

// ConfigError reports a malformed or incomplete rank structure.
type ConfigError struct {
	Guild  string
	Rank   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	s := "catalog: "
	if e.Guild != "" {
		s += fmt.Sprintf("guild %s: ", e.Guild)
	}
	if e.Rank != "" {
		s += fmt.Sprintf("rank %q: ", e.Rank)
	}
	s += e.Reason
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConfigError) Unwrap() error { return e.Err }

type fileConfig struct {
	Guilds map[string]guildConfig `yaml:"guilds"`
}

type guildConfig struct {
	Settings *settingsConfig `yaml:"settings"`
	Ranks    []rankConfig    `yaml:"ranks"`
}

type settingsConfig struct {
	AnnounceChannel     string   `yaml:"announce_channel"`
	QuizChannel         string   `yaml:"quiz_channel"`
	RestrictedQuizNames []string `yaml:"restricted_quiz_names"`
	QuizMenuMessage     string   `yaml:"quiz_menu_message"`
}

type rankConfig struct {
	Name            string   `yaml:"name"`
	Command         string   `yaml:"command"`
	Emoji           string   `yaml:"emoji"`
	RewardRole      string   `yaml:"reward_role"`
	RequiredRole    string   `yaml:"required_role"`
	CooldownExempt  bool     `yaml:"cooldown_exempt"`
	Group           string   `yaml:"group"`
	Level           *int     `yaml:"level"`
	ScoreLimit      int      `yaml:"score_limit"`
	MaxMissed       int      `yaml:"max_missed"`
	TimeLimitMs     int      `yaml:"time_limit_ms"`
	Font            string   `yaml:"font"`
	FontSize        int      `yaml:"font_size"`
	Foreground      string   `yaml:"foreground"`
	Effect          string   `yaml:"effect"`
	Decks           []string `yaml:"decks"`
	DeckRange       []int    `yaml:"deck_range"`
	Composite       bool     `yaml:"composite"`
	QuizzesRequired []string `yaml:"quizzes_required"`
}

// Load reads and validates the rank catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: "read " + path, Err: err}
	}
	return Parse(data)
}

// Parse decodes and validates a rank catalog document.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Reason: "empty document"}
		}
		return nil, &ConfigError{Reason: "decode", Err: err}
	}

	if len(fc.Guilds) == 0 {
		return nil, &ConfigError{Reason: "no guilds configured"}
	}

	c := &Catalog{guilds: make(map[string]*GuildCatalog, len(fc.Guilds))}
	for id, gc := range fc.Guilds {
		g, err := buildGuild(id, gc)
		if err != nil {
			return nil, err
		}
		c.guilds[id] = g
	}
	return c, nil
}

func buildGuild(id string, gc guildConfig) (*GuildCatalog, error) {
	if gc.Settings == nil {
		return nil, &ConfigError{Guild: id, Reason: "missing settings"}
	}
	if len(gc.Ranks) == 0 {
		return nil, &ConfigError{Guild: id, Reason: "no ranks configured"}
	}

	g := &GuildCatalog{
		id: id,
		settings: domain.GuildSettings{
			AnnounceChannel:     gc.Settings.AnnounceChannel,
			QuizChannel:         gc.Settings.QuizChannel,
			RestrictedQuizNames: gc.Settings.RestrictedQuizNames,
			QuizMenuMessage:     gc.Settings.QuizMenuMessage,
		},
	}

	seen := make(map[string]bool, len(gc.Ranks))
	signatures := make(map[string]string)
	position := 0

	for _, rc := range gc.Ranks {
		if rc.Name == "" {
			return nil, &ConfigError{Guild: id, Reason: "rank without a name"}
		}
		if seen[rc.Name] {
			return nil, &ConfigError{Guild: id, Rank: rc.Name, Reason: "duplicate rank name"}
		}
		seen[rc.Name] = true

		level := 0
		if rc.RewardRole != "" {
			position++
			level = position
		}
		if rc.Level != nil {
			level = *rc.Level
		}

		if rc.Composite {
			cr, err := buildComposite(id, rc, level)
			if err != nil {
				return nil, err
			}
			g.composites = append(g.composites, cr)
			if cr.RewardRole != "" {
				g.hierarchy = append(g.hierarchy, HierarchyEntry{Name: cr.Name, RewardRole: cr.RewardRole, Group: cr.Group, Level: cr.Level, Composite: true})
			}
			continue
		}

		r, err := buildRank(id, rc, level)
		if err != nil {
			return nil, err
		}

		sig := signature(r.Rules.Decks, r.Rules.Indexed())
		if other, ok := signatures[sig]; ok {
			return nil, &ConfigError{Guild: id, Rank: r.Name, Reason: fmt.Sprintf("deck signature collides with rank %q", other)}
		}
		signatures[sig] = r.Name

		g.ranks = append(g.ranks, r)
		if r.RewardRole != "" {
			g.hierarchy = append(g.hierarchy, HierarchyEntry{Name: r.Name, RewardRole: r.RewardRole, Group: r.Group, Level: r.Level})
		}
	}

	for _, cr := range g.composites {
		for _, q := range cr.RequiredQuizzes {
			if _, ok := g.Rank(q); !ok {
				return nil, &ConfigError{Guild: id, Rank: cr.Name, Reason: fmt.Sprintf("required quiz %q is not a quiz rank", q)}
			}
		}
	}

	return g, nil
}

func buildRank(guild string, rc rankConfig, level int) (domain.Rank, error) {
	if len(rc.QuizzesRequired) > 0 {
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "quizzes_required is only valid on composite ranks"}
	}
	if len(rc.Decks) == 0 {
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "no decks configured"}
	}
	for _, d := range rc.Decks {
		if d == "" {
			return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "empty deck name"}
		}
	}
	if rc.ScoreLimit <= 0 {
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "score_limit must be positive"}
	}
	if rc.MaxMissed <= 0 {
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "max_missed must be positive"}
	}
	if rc.TimeLimitMs <= 0 {
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "time_limit_ms must be positive"}
	}

	rules := domain.QuizRules{
		ScoreLimit:  rc.ScoreLimit,
		MaxMissed:   rc.MaxMissed,
		TimeLimitMs: rc.TimeLimitMs,
		Font:        rc.Font,
		FontSize:    rc.FontSize,
		Foreground:  rc.Foreground,
		Effect:      rc.Effect,
		Decks:       rc.Decks,
	}

	switch len(rc.DeckRange) {
	case 0:
	case 2:
		if rc.DeckRange[0] <= 0 || rc.DeckRange[1] < rc.DeckRange[0] {
			return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "deck_range must be [start, end] with 0 < start <= end"}
		}
		rules.DeckRange = &domain.IndexRange{Start: rc.DeckRange[0], End: rc.DeckRange[1]}
	default:
		return domain.Rank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "deck_range must have exactly two values"}
	}

	return domain.Rank{
		Name:           rc.Name,
		Command:        rc.Command,
		Emoji:          rc.Emoji,
		RewardRole:     rc.RewardRole,
		RequiredRole:   rc.RequiredRole,
		CooldownExempt: rc.CooldownExempt,
		Group:          rc.Group,
		Level:          level,
		Rules:          rules,
	}, nil
}

func buildComposite(guild string, rc rankConfig, level int) (domain.CompositeRank, error) {
	if len(rc.QuizzesRequired) == 0 {
		return domain.CompositeRank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "composite rank without required quizzes"}
	}
	if rc.RewardRole == "" {
		return domain.CompositeRank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "composite rank without reward role"}
	}
	if len(rc.Decks) > 0 || rc.Command != "" {
		return domain.CompositeRank{}, &ConfigError{Guild: guild, Rank: rc.Name, Reason: "composite ranks have no quiz of their own"}
	}

	return domain.CompositeRank{
		Name:            rc.Name,
		RewardRole:      rc.RewardRole,
		Group:           rc.Group,
		Level:           level,
		RequiredQuizzes: rc.QuizzesRequired,
	}, nil
}
