package quizmenu_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/cooldown"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform/platformtest"
	"github.com/victornm/levelup/internal/quizmenu"
	"github.com/victornm/levelup/internal/store/memory"
	"github.com/victornm/levelup/internal/workspace"
)

const catalogYAML = `
guilds:
  "g1":
    settings:
      announce_channel: ann
      quiz_channel: quiz
      quiz_menu_message: Pick one
    ranks:
      - {name: Bronze, command: "k!quiz bronze", emoji: "🥉", reward_role: r-bronze, score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [bronze]}
      - {name: Silver, command: "k!quiz silver", reward_role: r-silver, score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [silver]}
      - {name: Hidden, reward_role: r-hidden, score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [hidden]}
  "g2":
    settings:
      announce_channel: ann2
    ranks:
      - {name: N5, command: "k!quiz n5", score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [n5]}
`

var now = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	registry *quizmenu.Registry
	platform *platformtest.Fake
	tracker  *cooldown.Tracker
}

func makeRegistry(t *testing.T) *fixture {
	t.Helper()

	c, err := catalog.Parse([]byte(catalogYAML))
	require.NoError(t, err)

	p := platformtest.New()
	s := memory.New()
	tracker := cooldown.NewTracker(cooldown.Config{Store: s, Now: func() time.Time { return now }})

	return &fixture{
		registry: quizmenu.NewRegistry(quizmenu.Config{
			Catalog:  c,
			Cooldown: tracker,
			Workspaces: workspace.NewManager(workspace.Config{
				Store:    s,
				Platform: p,
			}),
			Messenger: p,
		}),
		platform: p,
		tracker:  tracker,
	}
}

func TestRegistry_Lookup(t *testing.T) {
	f := makeRegistry(t)

	m, ok := f.registry.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, "g1", m.GuildID())
	assert.Equal(t, "Pick one", m.Prompt())
	assert.Equal(t, []quizmenu.Option{
		{Name: "Bronze", Emoji: "🥉"},
		{Name: "Silver"},
	}, m.Options())

	m2, ok := f.registry.Lookup("g2")
	require.True(t, ok)
	assert.Equal(t, "Select a quiz to take:", m2.Prompt())

	_, ok = f.registry.Lookup("g404")
	assert.False(t, ok)
}

func TestMenu_Select(t *testing.T) {
	ctx := context.Background()
	alice := domain.User{ID: "u1", Name: "alice"}

	tests := map[string]struct {
		arrange func(f *fixture) (guild, rank string)
		assert  func(t *testing.T, f *fixture, sel quizmenu.Selection, err error)
	}{
		"prepares the workspace and posts the command": {
			arrange: func(f *fixture) (string, string) { return "g1", "Bronze" },
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				require.NoError(t, err)
				assert.False(t, sel.OnCooldown)
				assert.Equal(t, "ws-1", sel.Workspace.ID)

				ws, ok := f.platform.Workspace("ws-1")
				require.True(t, ok)
				assert.Equal(t, "alice - Quiz", ws.Name)
				assert.ElementsMatch(t, []string{quizmenu.DefaultQuizBotID, "u1"}, ws.Members)

				assert.Equal(t, []platformtest.Message{
					{Channel: "ws-1", Text: "<@u1> To begin the Bronze quiz, copy and paste the following command exactly:"},
					{Channel: "ws-1", Text: "k!quiz bronze"},
				}, f.platform.Messages())
			},
		},
		"quiz on cooldown does nothing": {
			arrange: func(f *fixture) (string, string) {
				_, _ = f.tracker.RecordAttempt(ctx, "g1", "u1", "Silver", now.Add(-time.Hour))
				return "g1", "Silver"
			},
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				require.NoError(t, err)
				assert.True(t, sel.OnCooldown)
				assert.True(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Equal(sel.NextEligible))
				assert.Empty(t, f.platform.Created)
				assert.Empty(t, f.platform.Messages())
			},
		},
		"unknown quiz is rejected": {
			arrange: func(f *fixture) (string, string) { return "g1", "Platinum" },
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
			},
		},
		"quiz without a command is rejected": {
			arrange: func(f *fixture) (string, string) { return "g1", "Hidden" },
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
			},
		},
		"guild without a quiz channel fails": {
			arrange: func(f *fixture) (string, string) { return "g2", "N5" },
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
			},
		},
		"forbidden workspace creation is reported": {
			arrange: func(f *fixture) (string, string) {
				f.platform.FailOn("CreateWorkspace", errors.New(errors.CodePermissionDenied))
				return "g1", "Bronze"
			},
			assert: func(t *testing.T, f *fixture, sel quizmenu.Selection, err error) {
				assert.True(t, errors.Is(err, errors.CodePermissionDenied))
				assert.Empty(t, f.platform.Messages())
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeRegistry(t)
			guild, rank := tt.arrange(f)

			m, ok := f.registry.Lookup(guild)
			require.True(t, ok)

			sel, err := m.Select(ctx, alice, rank)
			tt.assert(t, f, sel, err)
		})
	}
}
