package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/progression"
)

// relative renders t as a Discord relative and full timestamp pair.
func relative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R> (on <t:%d:F>)", t.Unix(), t.Unix())
}

func mention(userID string) string { return "<@" + userID + ">" }

func roleMention(roleID string) string { return "<@&" + roleID + ">" }

// denialText is the reply to a refused quiz command, and the audit reason of the timeout.
func denialText(userID string, v progression.Verdict) (text, reason string) {
	switch v.Denial {
	case progression.DenyCooldown:
		return fmt.Sprintf("%s You can only attempt this quiz once per week. Your next attempt will be available %s.", mention(userID), relative(v.NextEligible)),
			"Quiz on cooldown."
	case progression.DenyInexact:
		return fmt.Sprintf("%s Please copy and paste the command **exactly** and try again.", mention(userID)),
			"Invalid quiz attempt."
	case progression.DenyRestricted:
		return fmt.Sprintf("%s %s quiz is restricted.\nYou can only use it in the level-up channel with the exact commands.", mention(userID), v.Restricted),
			"Restricted quiz attempt."
	case progression.DenyWrongChannel:
		return fmt.Sprintf("%s Please use this quiz command in the level-up channels.", mention(userID)),
			"Invalid channel for quiz attempt."
	}
	return "", ""
}

// outcomeReply is posted where the report appeared. It is empty when nothing needs saying there.
func outcomeReply(out domain.Outcome) string {
	switch {
	case out.State == domain.StateCooldownCharged:
		return fmt.Sprintf("%s registered attempt for %s. You can try again %s.", mention(out.UserID), out.Rank, relative(out.NextEligible))
	case out.State == domain.StateRejected && out.MissingRole != "":
		return fmt.Sprintf("%s You need the %s role to take this quiz.", mention(out.UserID), roleMention(out.MissingRole))
	case out.State == domain.StateRejected && !out.NextEligible.IsZero():
		return fmt.Sprintf("%s The %s quiz is on cooldown. You can try again %s.", mention(out.UserID), out.Rank, relative(out.NextEligible))
	}
	return ""
}

// directMessage is the private note sent to the participant.
func directMessage(out domain.Outcome) string {
	switch out.State {
	case domain.StateRewarded:
		return fmt.Sprintf("Congratulations! You passed the %s quiz!", out.Rank)
	case domain.StateCooldownCharged:
		return fmt.Sprintf("Your attempt at the %s quiz was unsuccessful: %s\nYou can try again %s.", out.Rank, out.Message, relative(out.NextEligible))
	}
	return ""
}

func resetText(userID, quiz string) string {
	if quiz == "" {
		return fmt.Sprintf("Cleared all quiz cooldown for %s.", mention(userID))
	}
	return fmt.Sprintf("Cleared quiz cooldown for %s for `%s`.", mention(userID), quiz)
}

// rankTableText lists every role-granting rank with its share of ranked members.
// members is the guild member count, or zero when unknown.
func rankTableText(t progression.RankTable, members int) string {
	var b strings.Builder
	for _, e := range t.Entries {
		fmt.Fprintf(&b, "%s: %d (%s%%)\n", roleMention(e.RewardRole), e.Users, e.Percent.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal ranked members: %d", t.RankedUsers)
	if members > 0 {
		fmt.Fprintf(&b, "\nTotal members: %d", members)
	}
	return b.String()
}

type field struct {
	Name  string
	Value string
}

// rankFields renders one embed field per rank for the rank listing.
func rankFields(ranks []progression.RankListing) []field {
	out := make([]field, 0, len(ranks))
	for _, r := range ranks {
		if r.Composite {
			out = append(out, field{
				Name:  r.Name,
				Value: fmt.Sprintf("Required quizzes: %s\nReward role: %s", strings.Join(r.RequiredQuizzes, ", "), roleMention(r.RewardRole)),
			})
			continue
		}

		lines := []string{"```" + r.Command + "```"}
		if r.RewardRole != "" {
			lines = append(lines, "Reward role: "+roleMention(r.RewardRole))
		}
		if r.OnCooldown {
			lines = append(lines, "Cooldown: "+relative(r.NextEligible))
		} else {
			lines = append(lines, "Cooldown: Not on cooldown.")
		}
		if r.RequiredRole != "" {
			lines = append(lines, "Required role: "+roleMention(r.RequiredRole))
		}
		out = append(out, field{Name: r.Name, Value: strings.Join(lines, "\n")})
	}
	return out
}

// maxInlineMentions bounds the length of an inline member list.
const maxInlineMentions = 500

// rankUsersText lists the holders of a role. Long lists come back as file
// content, with text announcing the file.
func rankUsersText(roleID string, members []domain.User) (text, file string) {
	mentions := make([]string, 0, len(members)+1)
	for _, m := range members {
		mentions = append(mentions, mention(m.ID))
	}

	if len(strings.Join(mentions, " ")) < maxInlineMentions {
		mentions = append(mentions, fmt.Sprintf("\n\nA total %d members have the role %s.", len(members), roleMention(roleID)))
		return strings.Join(mentions, " "), ""
	}

	lines := make([]string, 0, len(members)+1)
	for _, m := range members {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		lines = append(lines, name)
	}
	lines = append(lines, fmt.Sprintf("\nTotal %d members.", len(members)))
	return "List of role members too large. Providing role member list in a file:", strings.Join(lines, "\n")
}
