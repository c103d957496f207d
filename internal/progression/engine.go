// Package progression turns observed quiz reports into rank rewards and
// cooldown charges.
//
// An evaluation moves from Pending to exactly one terminal state:
// SkippedAlreadyHeld, Rewarded, CooldownCharged or Rejected. Reports that
// cannot be fetched, and users whose roles cannot be read, end in Dropped. Failures of chat platform calls while
// applying a reward are logged and never rolled back; a later evaluation
// re-applies what is missing because passed quizzes are durable.
package progression

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/cooldown"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/event"
	"github.com/victornm/levelup/internal/platform"
	"github.com/victornm/levelup/internal/telemetry"
	"github.com/victornm/levelup/internal/verify"
)

type Store interface {
	InsertPassedQuizIfAbsent(ctx context.Context, p domain.PassedQuiz) (bool, error)
	PassedQuizzesFor(ctx context.Context, guildID, userID string) ([]string, error)
	PassedByUser(ctx context.Context, guildID string) (map[string][]string, error)
}

// WorkspaceChecker tells whether a channel is the user's quiz workspace.
type WorkspaceChecker interface {
	IsUserWorkspace(ctx context.Context, userID, channelID string) (bool, error)
}

type Config struct {
	Catalog    *catalog.Catalog
	Store      Store
	Cooldown   *cooldown.Tracker
	Roles      platform.Roles
	Messenger  platform.Messenger
	Reports    platform.ReportFetcher
	Workspaces WorkspaceChecker
	EventBus   *event.Bus
	// CommandMarker selects the messages Screen inspects. Defaults to "k!q".
	CommandMarker string
}

type Engine struct {
	catalog    *catalog.Catalog
	store      Store
	cooldown   *cooldown.Tracker
	roles      platform.Roles
	messenger  platform.Messenger
	reports    platform.ReportFetcher
	workspaces WorkspaceChecker
	eb         *event.Bus
	marker     string
}

func NewEngine(c Config) *Engine {
	marker := c.CommandMarker
	if marker == "" {
		marker = "k!q"
	}

	return &Engine{
		catalog:    c.Catalog,
		store:      c.Store,
		cooldown:   c.Cooldown,
		roles:      c.Roles,
		messenger:  c.Messenger,
		reports:    c.Reports,
		workspaces: c.Workspaces,
		eb:         c.EventBus,
		marker:     marker,
	}
}

// ProcessReport fetches a finished report and evaluates it for its participant.
// A report that cannot be fetched ends in StateDropped without any charge.
func (e *Engine) ProcessReport(ctx context.Context, guildID, reportID string) (domain.Outcome, error) {
	out := e.newOutcome(ctx, guildID, "")

	report, err := e.reports.FetchQuizReport(ctx, reportID)
	if err != nil {
		slog.WarnContext(ctx, "progression: report unavailable, event dropped", "guild", guildID, "report", reportID, "error", err)
		out.State = domain.StateDropped
		out.Message = "quiz report unavailable"
		return e.finish(ctx, out), nil
	}

	if len(report.Participants) == 0 {
		out.State = domain.StateRejected
		out.Message = "quiz report has no participants"
		return e.finish(ctx, out), nil
	}

	return e.Evaluate(ctx, guildID, report.Participants[0], report)
}

// Evaluate judges a report for the user and applies its consequences.
// A quiz still on cooldown is rejected before the report is judged.
// The error is non-nil only when the engine's own durable state could not be read or written.
func (e *Engine) Evaluate(ctx context.Context, guildID, userID string, report domain.QuizReport) (domain.Outcome, error) {
	out := e.newOutcome(ctx, guildID, userID)

	g, ok := e.catalog.Guild(guildID)
	if !ok {
		out.State = domain.StateRejected
		out.Message = "guild is not configured"
		return e.finish(ctx, out), nil
	}

	rank, ok := g.Resolve(report.DeckNames(), report.Indexed())
	if !ok {
		out.State = domain.StateRejected
		out.Message = "no rank matches the played decks"
		return e.finish(ctx, out), nil
	}
	out.Rank = rank.Name

	if rank.RequiredRole != "" {
		has, err := e.roles.HasRole(ctx, guildID, userID, rank.RequiredRole)
		if err != nil {
			slog.ErrorContext(ctx, "progression: check required role failed", "guild", guildID, "user", userID, "rank", rank.Name, "error", err)
			out.State = domain.StateDropped
			out.Message = "required role could not be checked"
			return e.finish(ctx, out), nil
		}
		if !has {
			out.State = domain.StateRejected
			out.MissingRole = rank.RequiredRole
			out.Message = fmt.Sprintf("the %s quiz requires role %s", rank.Name, rank.RequiredRole)
			return e.finish(ctx, out), nil
		}
	}

	if rank.RewardRole != "" && e.holdsAtLeast(ctx, g, userID, rank.Group, rank.Level) {
		out.State = domain.StateSkippedAlreadyHeld
		return e.finish(ctx, out), nil
	}

	if rank.RequiresCooldown() {
		on, next, err := e.cooldown.IsOnCooldown(ctx, guildID, userID, rank.Name, true)
		if err != nil {
			return out, fmt.Errorf("progression: check cooldown: %w", err)
		}
		if on {
			out.State = domain.StateRejected
			out.NextEligible = next
			out.Message = fmt.Sprintf("the %s quiz is on cooldown", rank.Name)
			e.eb.Publish(ctx, domain.EventQuizRejected{Outcome: out})
			return e.finish(ctx, out), nil
		}
	}

	res := verify.Verify(rank.Rules, rank.Name, report)
	if !res.OK {
		out.Message = res.Reason
		if !rank.RequiresCooldown() {
			out.State = domain.StateRejected
			e.eb.Publish(ctx, domain.EventQuizRejected{Outcome: out})
			return e.finish(ctx, out), nil
		}

		next, err := e.cooldown.RecordAttempt(ctx, guildID, userID, rank.Name, e.cooldown.Now())
		if err != nil {
			return out, fmt.Errorf("progression: record attempt: %w", err)
		}
		out.State = domain.StateCooldownCharged
		out.NextEligible = next
		e.eb.Publish(ctx, domain.EventCooldownCharged{Outcome: out})
		return e.finish(ctx, out), nil
	}

	if _, err := e.store.InsertPassedQuizIfAbsent(ctx, domain.PassedQuiz{GuildID: guildID, UserID: userID, QuizName: rank.Name}); err != nil {
		return out, fmt.Errorf("progression: insert passed quiz: %w", err)
	}

	out.State = domain.StateRewarded
	out.Message = res.Reason
	if rank.RewardRole != "" {
		e.swapRole(ctx, g, userID, rank.Group, rank.RewardRole)
		out.RewardedRank = rank.Name
	}
	e.announce(ctx, g, fmt.Sprintf("<@%s> has passed the %s quiz!", userID, rank.Name))
	e.eb.Publish(ctx, domain.EventRankAwarded{Outcome: out})

	composite, err := e.UnlockComposites(ctx, guildID, userID)
	if err != nil {
		return e.finish(ctx, out), err
	}
	out.Composite = composite

	return e.finish(ctx, out), nil
}

// UnlockComposites grants at most one composite rank whose prerequisites are all passed.
// Composites are tried from the last declared to the first. It returns the name of
// the granted composite, or "" when none applies.
func (e *Engine) UnlockComposites(ctx context.Context, guildID, userID string) (string, error) {
	g, ok := e.catalog.Guild(guildID)
	if !ok {
		return "", nil
	}

	composites := g.Composites()
	if len(composites) == 0 {
		return "", nil
	}

	passed, err := e.store.PassedQuizzesFor(ctx, guildID, userID)
	if err != nil {
		return "", fmt.Errorf("progression: passed quizzes: %w", err)
	}

	slices.Reverse(composites)
	for _, c := range composites {
		if e.holdsAtLeast(ctx, g, userID, c.Group, c.Level) {
			return "", nil
		}

		if !containsAll(passed, c.RequiredQuizzes) {
			continue
		}

		if _, err := e.store.InsertPassedQuizIfAbsent(ctx, domain.PassedQuiz{GuildID: guildID, UserID: userID, QuizName: c.Name}); err != nil {
			return "", fmt.Errorf("progression: insert passed composite: %w", err)
		}

		e.swapRole(ctx, g, userID, c.Group, c.RewardRole)
		e.announce(ctx, g, fmt.Sprintf("<@%s> is now a %s!", userID, c.Name))
		e.eb.Publish(ctx, domain.EventCompositeUnlocked{GuildID: guildID, UserID: userID, Composite: c.Name})

		slog.InfoContext(ctx, "progression: composite unlocked", "guild", guildID, "user", userID, "composite", c.Name)
		return c.Name, nil
	}

	return "", nil
}

// holdsAtLeast reports whether the user holds a role of the group at level or above.
func (e *Engine) holdsAtLeast(ctx context.Context, g *catalog.GuildCatalog, userID, group string, level int) bool {
	for _, h := range g.Hierarchy(group) {
		if h.Level < level {
			continue
		}

		has, err := e.roles.HasRole(ctx, g.ID(), userID, h.RewardRole)
		if err != nil {
			slog.ErrorContext(ctx, "progression: check held role failed", "guild", g.ID(), "user", userID, "role", h.RewardRole, "error", err)
			continue
		}
		if has {
			return true
		}
	}
	return false
}

// swapRole replaces every other role of the group with role.
func (e *Engine) swapRole(ctx context.Context, g *catalog.GuildCatalog, userID, group, role string) {
	var others []string
	for _, h := range g.Hierarchy(group) {
		if h.RewardRole != role && !slices.Contains(others, h.RewardRole) {
			others = append(others, h.RewardRole)
		}
	}

	if len(others) > 0 {
		if err := e.roles.RemoveRoles(ctx, g.ID(), userID, others); err != nil {
			slog.ErrorContext(ctx, "progression: remove roles failed", "guild", g.ID(), "user", userID, "error", err)
		}
	}

	if err := e.roles.AssignRole(ctx, g.ID(), userID, role); err != nil {
		slog.ErrorContext(ctx, "progression: assign role failed", "guild", g.ID(), "user", userID, "role", role, "error", err)
	}
}

func (e *Engine) announce(ctx context.Context, g *catalog.GuildCatalog, text string) {
	ch := g.Settings().AnnounceChannel
	if ch == "" {
		return
	}

	if err := e.messenger.SendMessage(ctx, ch, text); err != nil {
		slog.ErrorContext(ctx, "progression: announce failed", "guild", g.ID(), "channel", ch, "error", err)
	}
}

func (e *Engine) newOutcome(ctx context.Context, guildID, userID string) domain.Outcome {
	out := domain.Outcome{
		GuildID: guildID,
		UserID:  userID,
		State:   domain.StatePending,
	}

	id, err := uuid.NewV7()
	if err != nil {
		slog.WarnContext(ctx, "progression: generate evaluation ID failed", "error", err)
		return out
	}
	out.EvaluationID = id.String()
	return out
}

func (e *Engine) finish(ctx context.Context, out domain.Outcome) domain.Outcome {
	telemetry.Outcomes.WithLabelValues(string(out.State)).Inc()
	slog.InfoContext(ctx, "progression: evaluation finished",
		"evaluation", out.EvaluationID,
		"guild", out.GuildID,
		"user", out.UserID,
		"rank", out.Rank,
		"state", out.State,
	)
	return out
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
