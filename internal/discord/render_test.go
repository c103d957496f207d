package discord

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/progression"
)

func TestDenialText(t *testing.T) {
	next := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		verdict progression.Verdict
		text    string
		reason  string
	}{
		"cooldown": {
			verdict: progression.Verdict{Denial: progression.DenyCooldown, NextEligible: next},
			text:    "<@u1> You can only attempt this quiz once per week. Your next attempt will be available <t:1710028800:R> (on <t:1710028800:F>).",
			reason:  "Quiz on cooldown.",
		},
		"inexact command": {
			verdict: progression.Verdict{Denial: progression.DenyInexact},
			text:    "<@u1> Please copy and paste the command **exactly** and try again.",
			reason:  "Invalid quiz attempt.",
		},
		"restricted": {
			verdict: progression.Verdict{Denial: progression.DenyRestricted, Restricted: "Gold"},
			text:    "<@u1> Gold quiz is restricted.\nYou can only use it in the level-up channel with the exact commands.",
			reason:  "Restricted quiz attempt.",
		},
		"wrong channel": {
			verdict: progression.Verdict{Denial: progression.DenyWrongChannel},
			text:    "<@u1> Please use this quiz command in the level-up channels.",
			reason:  "Invalid channel for quiz attempt.",
		},
		"allowed": {
			verdict: progression.Verdict{Allowed: true},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			text, reason := denialText("u1", tt.verdict)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestDirectMessage(t *testing.T) {
	next := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "Congratulations! You passed the Bronze quiz!",
		directMessage(domain.Outcome{State: domain.StateRewarded, Rank: "Bronze"}))
	assert.Equal(t, "Your attempt at the Bronze quiz was unsuccessful: Failed too many questions.\nYou can try again <t:1710028800:R> (on <t:1710028800:F>).",
		directMessage(domain.Outcome{State: domain.StateCooldownCharged, Rank: "Bronze", Message: "Failed too many questions.", NextEligible: next}))
	assert.Empty(t, directMessage(domain.Outcome{State: domain.StateSkippedAlreadyHeld}))
}

func TestOutcomeReply(t *testing.T) {
	assert.Empty(t, outcomeReply(domain.Outcome{State: domain.StateRewarded}))
	assert.Empty(t, outcomeReply(domain.Outcome{State: domain.StateRejected, Message: "no rank matches the played decks"}))
	assert.Equal(t, "<@u1> The Bronze quiz is on cooldown. You can try again <t:1710028800:R> (on <t:1710028800:F>).",
		outcomeReply(domain.Outcome{UserID: "u1", State: domain.StateRejected, Rank: "Bronze", NextEligible: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}))
}

func TestRankTableText(t *testing.T) {
	table := progression.RankTable{
		RankedUsers: 3,
		Entries: []progression.RankTableEntry{
			{Name: "Bronze", RewardRole: "r1", Users: 2, Percent: decimal.RequireFromString("66.67")},
			{Name: "Silver", RewardRole: "r2", Users: 0, Percent: decimal.Zero},
		},
	}

	assert.Equal(t, "<@&r1>: 2 (66.67%)\n<@&r2>: 0 (0.00%)\n\nTotal ranked members: 3", rankTableText(table, 0))
	assert.Equal(t, "<@&r1>: 2 (66.67%)\n<@&r2>: 0 (0.00%)\n\nTotal ranked members: 3\nTotal members: 40", rankTableText(table, 40))
}

func TestRankFields(t *testing.T) {
	next := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	got := rankFields([]progression.RankListing{
		{Name: "Bronze", Command: "k!quiz bronze", RewardRole: "r1"},
		{Name: "Gold", Command: "k!quiz gold", RequiredRole: "r2", OnCooldown: true, NextEligible: next},
		{Name: "Master", Composite: true, RewardRole: "r3", RequiredQuizzes: []string{"Bronze", "Gold"}},
	})

	assert.Equal(t, []field{
		{Name: "Bronze", Value: "```k!quiz bronze```\nReward role: <@&r1>\nCooldown: Not on cooldown."},
		{Name: "Gold", Value: "```k!quiz gold```\nCooldown: <t:1710028800:R> (on <t:1710028800:F>)\nRequired role: <@&r2>"},
		{Name: "Master", Value: "Required quizzes: Bronze, Gold\nReward role: <@&r3>"},
	}, got)
}

func TestRankUsersText(t *testing.T) {
	text, file := rankUsersText("r1", nil)
	assert.Equal(t, "\n\nA total 0 members have the role <@&r1>.", text)
	assert.Empty(t, file)

	var many []domain.User
	for i := 0; i < 40; i++ {
		many = append(many, domain.User{ID: fmt.Sprintf("1000000000000000%02d", i), Name: fmt.Sprintf("member%02d", i)})
	}
	many[1].Name = ""

	text, file = rankUsersText("r1", many)
	assert.Equal(t, "List of role members too large. Providing role member list in a file:", text)

	lines := strings.Split(file, "\n")
	require.Len(t, lines, 42)
	assert.Equal(t, "member00", lines[0])
	assert.Equal(t, "100000000000000001", lines[1], "id stands in for a missing name")
	assert.Equal(t, "Total 40 members.", lines[41])
}
