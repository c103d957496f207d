package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/discordgo"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform"
	"github.com/victornm/levelup/internal/progression"
	"github.com/victornm/levelup/internal/quizmenu"
	"github.com/victornm/levelup/internal/report"
)

const (
	menuPrefix         = "quizmenu-guild:"
	menuPlaceholder    = "Click here to take a quiz!"
	defaultTimeout     = 30 * time.Second
	embedColor         = 0x5865F2
	maxAutocompletions = 25
)

const (
	cmdResetCooldown = "reset_user_cooldown"
	cmdRankTable     = "ranktable"
	cmdRankUsers     = "rankusers"
	cmdListRanks     = "list_role_commands"
	cmdCreateMenu    = "create_quiz_menu"
)

// Engine is the part of the progression engine the bot drives.
type Engine interface {
	ProcessReport(ctx context.Context, guildID, reportID string) (domain.Outcome, error)
	Screen(ctx context.Context, req progression.ScreenRequest) (progression.Verdict, error)
	ListRanks(ctx context.Context, guildID, userID string) ([]progression.RankListing, error)
	Distribution(ctx context.Context, guildID string) (progression.RankTable, error)
	ResetCooldown(ctx context.Context, guildID, userID, quizName string) (int64, error)
	QuizNames(guildID string) []string
}

type Chat interface {
	platform.Messenger
	platform.Moderator
	RoleMembers(ctx context.Context, guildID, roleID string) ([]domain.User, error)
}

type Config struct {
	Session   *discordgo.Session
	Engine    Engine
	Chat      Chat
	Menus     *quizmenu.Registry
	QuizBotID string
	// HandlerTimeout bounds the work done for one gateway event.
	HandlerTimeout time.Duration
}

// Bot reacts to gateway events of the configured guilds.
type Bot struct {
	s         *discordgo.Session
	engine    Engine
	chat      Chat
	menus     *quizmenu.Registry
	quizBotID string
	timeout   time.Duration
}

func NewBot(c Config) *Bot {
	if c.QuizBotID == "" {
		c.QuizBotID = quizmenu.DefaultQuizBotID
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = defaultTimeout
	}

	b := &Bot{
		s:         c.Session,
		engine:    c.Engine,
		chat:      c.Chat,
		menus:     c.Menus,
		quizBotID: c.QuizBotID,
		timeout:   c.HandlerTimeout,
	}

	if b.s != nil {
		b.s.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMembers |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent |
			discordgo.IntentsDirectMessages
		b.s.State.MaxMessageCount = 100
		b.s.AddHandler(b.onMessageCreate)
		b.s.AddHandler(b.onInteractionCreate)
	}
	return b
}

// Open connects to the gateway and registers the slash commands in every guild.
func (b *Bot) Open(guildIDs []string) error {
	if err := b.s.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	appID := b.s.State.User.ID
	for _, g := range guildIDs {
		if _, err := b.s.ApplicationCommandBulkOverwrite(appID, g, commands()); err != nil {
			return fmt.Errorf("discord: register commands in guild %s: %w", g, err)
		}
	}

	slog.Info("discord: session opened", "user", b.s.State.User.Username, "guilds", len(guildIDs))
	return nil
}

func (b *Bot) Close() error {
	return b.s.Close()
}

func commands() []*discordgo.ApplicationCommand {
	admin := int64(discordgo.PermissionAdministrator)
	noDM := false

	return []*discordgo.ApplicationCommand{
		{
			Name:                     cmdResetCooldown,
			Description:              "Reset a users quiz cooldown.",
			DefaultMemberPermissions: &admin,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to clear the cooldown of.",
					Required:    true,
				},
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "quiz_to_reset",
					Description:  "The quiz to reset the cooldown for.",
					Autocomplete: true,
				},
			},
		},
		{
			Name:         cmdRankTable,
			Description:  "Display the distribution of quiz roles in the server.",
			DMPermission: &noDM,
		},
		{
			Name:         cmdRankUsers,
			Description:  "See all users with a specific role.",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role for which all members should be displayed.",
					Required:    true,
				},
			},
		},
		{
			Name:         cmdListRanks,
			Description:  "List all commands required for the quizzes.",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "guild_id",
					Description: "The guild for which to display the role commands.",
				},
			},
		},
		{
			Name:                     cmdCreateMenu,
			Description:              "Creates the menu for the quizzes in the current channel.",
			DefaultMemberPermissions: &admin,
			DMPermission:             &noDM,
		},
	}
}

func (b *Bot) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
		return
	}

	ctx, cancel := b.context()
	defer cancel()

	b.handleMessage(ctx, m.Message)
}

// handleMessage evaluates quiz reports posted by the quiz bot and screens member quiz commands.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.GuildID == "" || m.Author == nil {
		return
	}

	if m.Author.ID == b.quizBotID {
		b.handleReport(ctx, m)
		return
	}

	v, err := b.engine.Screen(ctx, progression.ScreenRequest{
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		FromBot:   m.Author.Bot,
	})
	if err != nil {
		slog.ErrorContext(ctx, "discord: screen message failed", "guild", m.GuildID, "user", m.Author.ID, "error", err)
		return
	}
	if v.Allowed {
		return
	}

	text, reason := denialText(m.Author.ID, v)
	if err := b.chat.SendMessage(ctx, m.ChannelID, text); err != nil {
		slog.ErrorContext(ctx, "discord: reply to refused command failed", "channel", m.ChannelID, "error", err)
	}

	err = b.chat.Timeout(ctx, m.GuildID, m.Author.ID, v.Timeout, reason)
	switch {
	case errors.Is(err, errors.CodePermissionDenied):
		slog.DebugContext(ctx, "discord: not allowed to time out member", "guild", m.GuildID, "user", m.Author.ID)
	case err != nil:
		slog.ErrorContext(ctx, "discord: timeout member failed", "guild", m.GuildID, "user", m.Author.ID, "error", err)
	}
}

func (b *Bot) handleReport(ctx context.Context, m *discordgo.Message) {
	id, ok := reportID(m)
	if !ok {
		return
	}

	out, err := b.engine.ProcessReport(ctx, m.GuildID, id)
	if err != nil {
		slog.ErrorContext(ctx, "discord: process report failed", "guild", m.GuildID, "report", id, "error", err)
		return
	}

	if text := outcomeReply(out); text != "" {
		if err := b.chat.SendMessage(ctx, m.ChannelID, text); err != nil {
			slog.ErrorContext(ctx, "discord: reply to report failed", "channel", m.ChannelID, "error", err)
		}
	}
}

// reportID reads the report id from the first embed of a finished game message.
func reportID(m *discordgo.Message) (string, bool) {
	if len(m.Embeds) == 0 {
		return "", false
	}

	e := m.Embeds[0]
	if len(e.Fields) == 0 {
		return "", false
	}
	return report.ParseReportID(e.Title, e.Fields[len(e.Fields)-1].Value)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := b.context()
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.respond(ctx, i.Interaction, b.handleCommand(ctx, i.Interaction))
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.respond(ctx, i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: b.autocomplete(i.Interaction)},
		})
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, i.Interaction)
	}
}

func (b *Bot) respond(ctx context.Context, i *discordgo.Interaction, r *discordgo.InteractionResponse) {
	if r == nil {
		return
	}
	if err := b.s.InteractionRespond(i, r, discordgo.WithContext(ctx)); err != nil {
		slog.ErrorContext(ctx, "discord: respond to interaction failed", "interaction", i.ID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.Interaction) *discordgo.InteractionResponse {
	data := i.ApplicationCommandData()
	user := interactionUser(i)

	var resp *discordgo.InteractionResponseData
	switch data.Name {
	case cmdResetCooldown:
		resp = b.resetCooldown(ctx, i.GuildID, data.Options)
	case cmdRankTable:
		resp = b.rankTable(ctx, i.GuildID, b.memberCount(i.GuildID))
	case cmdRankUsers:
		resp = b.rankUsers(ctx, i.GuildID, data.Options)
	case cmdListRanks:
		guildID := i.GuildID
		if o := option(data.Options, "guild_id"); o != nil {
			guildID = o.StringValue()
		}
		resp = b.listRanks(ctx, guildID, user.ID)
	case cmdCreateMenu:
		resp = b.createMenu(ctx, i.GuildID, i.ChannelID)
	default:
		return nil
	}

	slog.InfoContext(ctx, "discord: command handled", "command", data.Name, "guild", i.GuildID, "user", user.ID)
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: resp,
	}
}

func ephemeral(text string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral}
}

func option(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	if i.User != nil {
		return i.User
	}
	return &discordgo.User{}
}

func (b *Bot) resetCooldown(ctx context.Context, guildID string, opts []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponseData {
	u := option(opts, "user")
	if u == nil {
		return ephemeral("Invalid command input")
	}
	userID := u.UserValue(nil).ID

	var quiz string
	if o := option(opts, "quiz_to_reset"); o != nil {
		quiz = o.StringValue()
	}

	n, err := b.engine.ResetCooldown(ctx, guildID, userID, quiz)
	switch {
	case errors.Is(err, errors.CodeInvalidArgument):
		return ephemeral("Invalid quiz name.")
	case err != nil:
		slog.ErrorContext(ctx, "discord: reset cooldown failed", "guild", guildID, "user", userID, "error", err)
		return ephemeral("Could not reset the cooldown.")
	}

	slog.InfoContext(ctx, "discord: cooldown reset", "guild", guildID, "user", userID, "quiz", quiz, "deleted", n)
	return &discordgo.InteractionResponseData{
		Content:         resetText(userID, quiz),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

func (b *Bot) autocomplete(i *discordgo.Interaction) []*discordgo.ApplicationCommandOptionChoice {
	var current string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Focused {
			current = o.StringValue()
		}
	}
	return quizChoices(b.engine.QuizNames(i.GuildID), current)
}

// quizChoices returns the names containing current, ignoring case.
func quizChoices(names []string, current string) []*discordgo.ApplicationCommandOptionChoice {
	current = strings.ToLower(current)

	var out []*discordgo.ApplicationCommandOptionChoice
	for _, n := range names {
		if !strings.Contains(strings.ToLower(n), current) {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
		if len(out) == maxAutocompletions {
			break
		}
	}
	return out
}

func (b *Bot) memberCount(guildID string) int {
	if b.s == nil || b.s.State == nil {
		return 0
	}
	g, err := b.s.State.Guild(guildID)
	if err != nil {
		return 0
	}
	return g.MemberCount
}

func (b *Bot) rankTable(ctx context.Context, guildID string, members int) *discordgo.InteractionResponseData {
	t, err := b.engine.Distribution(ctx, guildID)
	if err != nil {
		slog.ErrorContext(ctx, "discord: rank table failed", "guild", guildID, "error", err)
		return ephemeral("Could not build the rank table.")
	}

	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Role Distribution",
			Description: rankTableText(t, members),
			Color:       embedColor,
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
}

func (b *Bot) listRanks(ctx context.Context, guildID, userID string) *discordgo.InteractionResponseData {
	if guildID == "" || strings.IndexFunc(guildID, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return ephemeral("Invalid command input")
	}

	ranks, err := b.engine.ListRanks(ctx, guildID, userID)
	switch {
	case errors.Is(err, errors.CodeNotFound):
		return ephemeral("Unknown guild.")
	case err != nil:
		slog.ErrorContext(ctx, "discord: list ranks failed", "guild", guildID, "error", err)
		return ephemeral("Could not list the rank commands.")
	}

	embed := &discordgo.MessageEmbed{Title: "Rank Commands", Color: embedColor}
	for _, f := range rankFields(ranks) {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
	}

	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	}
}

func (b *Bot) createMenu(ctx context.Context, guildID, channelID string) *discordgo.InteractionResponseData {
	menu, ok := b.menus.Lookup(guildID)
	if !ok {
		return ephemeral("This server has no quizzes configured.")
	}

	if _, err := b.s.ChannelMessageSendComplex(channelID, menuMessage(menu), discordgo.WithContext(ctx)); err != nil {
		slog.ErrorContext(ctx, "discord: post quiz menu failed", "guild", guildID, "channel", channelID, "error", err)
		return ephemeral("Could not create the menu.")
	}
	return ephemeral("Creating menu...")
}

func menuMessage(m *quizmenu.Menu) *discordgo.MessageSend {
	var opts []discordgo.SelectMenuOption
	for _, o := range m.Options() {
		label := o.Name
		if o.Emoji != "" {
			label = o.Emoji + " " + o.Name
		}
		opts = append(opts, discordgo.SelectMenuOption{
			Label:       label,
			Value:       o.Name,
			Description: fmt.Sprintf("Select to take the %s quiz!", o.Name),
		})
	}

	one := 1
	return &discordgo.MessageSend{
		Content: m.Prompt(),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    menuPrefix + m.GuildID(),
					Placeholder: menuPlaceholder,
					MinValues:   &one,
					MaxValues:   1,
					Options:     opts,
				},
			}},
		},
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.Interaction) {
	data := i.MessageComponentData()
	if !strings.HasPrefix(data.CustomID, menuPrefix) || len(data.Values) == 0 {
		return
	}

	b.respond(ctx, i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})

	u := interactionUser(i)
	text := b.selectQuiz(ctx, i.GuildID, domain.User{ID: u.ID, Name: u.Username}, data.Values[0])

	if _, err := b.s.FollowupMessageCreate(i, false, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx)); err != nil {
		slog.ErrorContext(ctx, "discord: quiz menu followup failed", "guild", i.GuildID, "error", err)
	}
}

// selectQuiz runs a menu selection and returns the private reply for the member.
func (b *Bot) selectQuiz(ctx context.Context, guildID string, user domain.User, rank string) string {
	menu, ok := b.menus.Lookup(guildID)
	if !ok {
		return "This server has no quizzes configured."
	}

	sel, err := menu.Select(ctx, user, rank)
	switch {
	case errors.Is(err, errors.CodeInvalidArgument):
		return "That quiz is not available."
	case err != nil:
		slog.ErrorContext(ctx, "discord: quiz selection failed", "guild", guildID, "user", user.ID, "quiz", rank, "error", err)
		return "Could not open your quiz thread. Please try again later."
	case sel.OnCooldown:
		return fmt.Sprintf("You can only attempt this quiz once per week. Your next attempt will be available %s.", relative(sel.NextEligible))
	}
	return fmt.Sprintf("Your quiz thread for %s is ready: <#%s>. Good luck!", sel.Rank, sel.Workspace.ID)
}

func (b *Bot) rankUsers(ctx context.Context, guildID string, opts []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionResponseData {
	o := option(opts, "role")
	if o == nil {
		return ephemeral("Invalid command input")
	}
	roleID := o.RoleValue(nil, "").ID

	members, err := b.chat.RoleMembers(ctx, guildID, roleID)
	if err != nil {
		slog.ErrorContext(ctx, "discord: list role members failed", "guild", guildID, "role", roleID, "error", err)
		return ephemeral("Could not list the role members.")
	}

	text, file := rankUsersText(roleID, members)
	resp := &discordgo.InteractionResponseData{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if file != "" {
		resp.Files = []*discordgo.File{{
			Name:        "rank_user_count.txt",
			ContentType: "text/plain; charset=utf-8",
			Reader:      strings.NewReader(file),
		}}
	}
	return resp
}
