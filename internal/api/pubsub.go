package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/event"
)

type (
	Notification struct {
		Event   string `json:"event"`
		GuildID string `json:"guild_id"`
		UserID  string `json:"user_id,omitempty"`
		Data    any    `json:"data"`
	}

	CompositeUnlocked struct {
		Composite string `json:"composite"`
	}

	WorkspaceSwept struct {
		WorkspaceID string    `json:"workspace_id"`
		ParentID    string    `json:"parent_id"`
		IdleSince   time.Time `json:"idle_since"`
	}
)

func toNotification(e event.Event) (Notification, bool) {
	n := Notification{Event: e.Name()}

	switch e := e.(type) {
	case domain.EventRankAwarded:
		n.GuildID, n.UserID, n.Data = e.Outcome.GuildID, e.Outcome.UserID, toOutcome(e.Outcome)
	case domain.EventCooldownCharged:
		n.GuildID, n.UserID, n.Data = e.Outcome.GuildID, e.Outcome.UserID, toOutcome(e.Outcome)
	case domain.EventQuizRejected:
		n.GuildID, n.UserID, n.Data = e.Outcome.GuildID, e.Outcome.UserID, toOutcome(e.Outcome)
	case domain.EventCompositeUnlocked:
		n.GuildID, n.UserID, n.Data = e.GuildID, e.UserID, CompositeUnlocked{Composite: e.Composite}
	case domain.EventWorkspaceSwept:
		n.GuildID, n.Data = e.GuildID, WorkspaceSwept{
			WorkspaceID: e.WorkspaceID,
			ParentID:    e.ParentID,
			IdleSince:   e.IdleSince.UTC(),
		}
	default:
		return Notification{}, false
	}

	return n, true
}

// publishNotification sends n to the guild channel and, for user events, to the user channel.
func (a *API) publishNotification(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", n.Event, err)
	}

	channels := []string{fmt.Sprintf("%s:guild:%s", a.prefix, n.GuildID)}
	if n.UserID != "" {
		channels = append(channels, fmt.Sprintf("%s:guild:%s:user:%s", a.prefix, n.GuildID, n.UserID))
	}

	var eg errgroup.Group
	for _, ch := range channels {
		ch := ch
		eg.Go(func() error {
			if err := a.redis.Publish(ctx, ch, b).Err(); err != nil {
				return fmt.Errorf("pubsub: publish %s to %s: %w", n.Event, ch, err)
			}
			return nil
		})
	}

	return eg.Wait()
}
