// Package discord connects the engine to a Discord guild through discordgo.
package discord

import (
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform"
)

const (
	// threadArchiveMinutes is the auto archive duration of quiz threads.
	threadArchiveMinutes = 60
	memberPageSize       = 1000
)

// Platform implements the platform interfaces on a discordgo session.
type Platform struct {
	s *discordgo.Session
}

var (
	_ platform.Roles      = (*Platform)(nil)
	_ platform.Messenger  = (*Platform)(nil)
	_ platform.Workspaces = (*Platform)(nil)
	_ platform.Moderator  = (*Platform)(nil)
)

func NewPlatform(s *discordgo.Session) *Platform {
	return &Platform{s: s}
}

// convert maps Discord REST failures onto error codes.
func convert(op string, err error) error {
	if err == nil {
		return nil
	}

	var re *discordgo.RESTError
	if stderrors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusForbidden:
			return errors.New(errors.CodePermissionDenied, errors.WithCause(err), errors.WithMessagef("discord: %s forbidden", op))
		case http.StatusNotFound:
			return errors.New(errors.CodeNotFound, errors.WithCause(err), errors.WithMessagef("discord: %s not found", op))
		}
	}
	return errors.New(errors.CodeUnavailable, errors.WithCause(err), errors.WithMessagef("discord: %s failed", op))
}

func (p *Platform) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	return convert("add role", p.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (p *Platform) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	m, err := p.member(ctx, guildID, userID)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range roleIDs {
		if !slices.Contains(m.Roles, r) {
			continue
		}
		if err := p.s.GuildMemberRoleRemove(guildID, userID, r, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, convert("remove role", err))
		}
	}
	return stderrors.Join(errs...)
}

func (p *Platform) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	m, err := p.member(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(m.Roles, roleID), nil
}

func (p *Platform) RoleMembers(ctx context.Context, guildID, roleID string) ([]domain.User, error) {
	var (
		out   []domain.User
		after string
	)
	for {
		page, err := p.s.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, convert("list members", err)
		}

		for _, m := range page {
			if m.User != nil && slices.Contains(m.Roles, roleID) {
				out = append(out, domain.User{ID: m.User.ID, Name: m.User.Username})
			}
		}

		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (p *Platform) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := p.s.State.Member(guildID, userID); err == nil {
		return m, nil
	}

	m, err := p.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convert("get member", err)
	}
	return m, nil
}

func (p *Platform) SendMessage(ctx context.Context, channelID, text string) error {
	_, err := p.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: userMentionsOnly(),
	}, discordgo.WithContext(ctx))
	return convert("send message", err)
}

// SendDirectMessage opens a DM channel with the user and sends text.
func (p *Platform) SendDirectMessage(ctx context.Context, userID, text string) error {
	ch, err := p.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return convert("open dm", err)
	}
	return p.SendMessage(ctx, ch.ID, text)
}

func (p *Platform) CreateWorkspace(ctx context.Context, parentID, name string) (domain.Workspace, error) {
	ch, err := p.s.ThreadStartComplex(parentID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Workspace{}, convert("create thread", err)
	}
	return p.toWorkspace(ch), nil
}

func (p *Platform) FetchWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	ch, err := p.s.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Workspace{}, convert("get thread", err)
	}
	if !ch.IsThread() {
		return domain.Workspace{}, errors.NotFound("channel %s is not a thread", id)
	}
	return p.toWorkspace(ch), nil
}

func (p *Platform) CachedWorkspace(guildID, id string) (domain.Workspace, bool) {
	ch, err := p.s.State.Channel(id)
	if err != nil || ch.GuildID != guildID || !ch.IsThread() {
		return domain.Workspace{}, false
	}
	return p.toWorkspace(ch), true
}

func (p *Platform) ReactivateWorkspace(ctx context.Context, id string) error {
	no := false
	_, err := p.s.ChannelEdit(id, &discordgo.ChannelEdit{
		Archived: &no,
		Locked:   &no,
	}, discordgo.WithContext(ctx))
	return convert("reopen thread", err)
}

func (p *Platform) DeleteWorkspace(ctx context.Context, id, reason string) error {
	_, err := p.s.ChannelDelete(id, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convert("delete thread", err)
}

func (p *Platform) AddParticipant(ctx context.Context, workspaceID, userID string) error {
	return convert("add thread member", p.s.ThreadMemberAdd(workspaceID, userID, discordgo.WithContext(ctx)))
}

func (p *Platform) ActiveWorkspaces(ctx context.Context, guildID, parentID string) ([]domain.Workspace, error) {
	list, err := p.s.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convert("list active threads", err)
	}

	var out []domain.Workspace
	for _, ch := range list.Threads {
		if ch.ParentID != parentID {
			continue
		}
		out = append(out, p.toWorkspace(ch))
	}
	return out, nil
}

func (p *Platform) LastMessageTime(ctx context.Context, workspaceID, messageID string) (time.Time, error) {
	m, err := p.s.ChannelMessage(workspaceID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return time.Time{}, convert("get message", err)
	}
	return m.Timestamp, nil
}

func (p *Platform) Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	until := time.Now().Add(d)
	return convert("timeout member", p.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (p *Platform) toWorkspace(ch *discordgo.Channel) domain.Workspace {
	ws := toWorkspace(ch)
	if ws.LastMessageID == "" || p.s.State == nil {
		return ws
	}
	if m, err := p.s.State.Message(ch.ID, ws.LastMessageID); err == nil {
		t := m.Timestamp.UTC()
		ws.LastMessageAt = &t
	}
	return ws
}

func toWorkspace(ch *discordgo.Channel) domain.Workspace {
	ws := domain.Workspace{
		ID:            ch.ID,
		ParentID:      ch.ParentID,
		Name:          ch.Name,
		LastMessageID: ch.LastMessageID,
	}
	if created, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		ws.CreatedAt = created.UTC()
	}
	if md := ch.ThreadMetadata; md != nil {
		ws.Archived = md.Archived
		ws.Locked = md.Locked
	}
	for _, m := range ch.Members {
		ws.Members = append(ws.Members, m.UserID)
	}
	if ch.Member != nil && ch.Member.UserID != "" && !ws.HasMember(ch.Member.UserID) {
		ws.Members = append(ws.Members, ch.Member.UserID)
	}
	return ws
}

func userMentionsOnly() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
	}
}
