package discord

import (
	"context"
	"log/slog"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/event"
)

type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// Notifier tells participants privately how their quiz went.
type Notifier struct {
	dm DirectMessenger
}

// NewNotifier subscribes the notifier to reward and cooldown events.
func NewNotifier(dm DirectMessenger, eb *event.Bus) *Notifier {
	n := &Notifier{dm: dm}
	eb.Subscribe(n.handle, domain.EventNameRankAwarded, domain.EventNameCooldownCharged)
	return n
}

func (n *Notifier) handle(ctx context.Context, e event.Event) error {
	var out domain.Outcome
	switch e := e.(type) {
	case domain.EventRankAwarded:
		out = e.Outcome
	case domain.EventCooldownCharged:
		out = e.Outcome
	default:
		return nil
	}

	text := directMessage(out)
	if text == "" || out.UserID == "" {
		return nil
	}

	err := n.dm.SendDirectMessage(ctx, out.UserID, text)
	if errors.Is(err, errors.CodePermissionDenied) {
		// members may close their DMs
		slog.DebugContext(ctx, "discord: direct message refused", "user", out.UserID)
		return nil
	}
	return err
}
