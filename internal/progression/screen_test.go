package progression_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/progression"
)

func TestEngine_Screen(t *testing.T) {
	tests := map[string]struct {
		arrange func(f *fixture) progression.ScreenRequest
		assert  func(t *testing.T, v progression.Verdict)
	}{
		"messages without a quiz command pass": {
			arrange: func(f *fixture) progression.ScreenRequest {
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "general", Content: "hello"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.True(t, v.Allowed)
			},
		},
		"bots are never screened": {
			arrange: func(f *fixture) progression.ScreenRequest {
				return progression.ScreenRequest{GuildID: "g1", UserID: "kotoba", ChannelID: "general", Content: "k!quiz gold", FromBot: true}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.True(t, v.Allowed)
			},
		},
		"exact command in own workspace passes": {
			arrange: func(f *fixture) progression.ScreenRequest {
				f.workspaces["u1"] = "ws-1"
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "ws-1", Content: "k!quiz gold"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.True(t, v.Allowed)
				assert.Equal(t, "Gold", v.Rank)
				assert.Equal(t, "Gold", v.Restricted)
			},
		},
		"inexact command in own workspace is denied": {
			arrange: func(f *fixture) progression.ScreenRequest {
				f.workspaces["u1"] = "ws-1"
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "ws-1", Content: "k!quiz bronze nd"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.False(t, v.Allowed)
				assert.Equal(t, progression.DenyInexact, v.Denial)
				assert.Equal(t, progression.DenialTimeout, v.Timeout)
			},
		},
		"restricted quiz outside the workspace is denied": {
			arrange: func(f *fixture) progression.ScreenRequest {
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "general", Content: "K!Q gold_deck"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.False(t, v.Allowed)
				assert.Equal(t, progression.DenyRestricted, v.Denial)
				assert.Equal(t, "Gold", v.Restricted)
			},
		},
		"valid command outside the workspace is denied": {
			arrange: func(f *fixture) progression.ScreenRequest {
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "general", Content: "k!quiz bronze"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.False(t, v.Allowed)
				assert.Equal(t, progression.DenyWrongChannel, v.Denial)
			},
		},
		"unrelated quiz outside the workspace passes": {
			arrange: func(f *fixture) progression.ScreenRequest {
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "general", Content: "k!quiz n5 10"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.True(t, v.Allowed)
			},
		},
		"quiz on cooldown is denied with the next eligible time": {
			arrange: func(f *fixture) progression.ScreenRequest {
				f.workspaces["u1"] = "ws-1"
				_, _ = f.tracker.RecordAttempt(context.Background(), "g1", "u1", "Bronze", now.Add(-time.Hour))
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "ws-1", Content: "k!quiz bronze"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.False(t, v.Allowed)
				assert.Equal(t, progression.DenyCooldown, v.Denial)
				assert.True(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Equal(v.NextEligible))
			},
		},
		"exempt quiz is never on cooldown": {
			arrange: func(f *fixture) progression.ScreenRequest {
				f.workspaces["u1"] = "ws-1"
				_, _ = f.tracker.RecordAttempt(context.Background(), "g1", "u1", "Kanji 2", now.Add(-time.Hour))
				return progression.ScreenRequest{GuildID: "g1", UserID: "u1", ChannelID: "ws-1", Content: "k!quiz kanji2"}
			},
			assert: func(t *testing.T, v progression.Verdict) {
				assert.True(t, v.Allowed)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeFixture(t)
			v, err := f.engine.Screen(context.Background(), tt.arrange(f))
			require.NoError(t, err)

			tt.assert(t, v)
		})
	}
}
