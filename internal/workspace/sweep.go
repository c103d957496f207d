package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/telemetry"
)

// SweepIdle deletes the active workspaces under parentID whose last activity is older than maxIdle.
// A workspace without any message counts from its creation time.
func (m *Manager) SweepIdle(ctx context.Context, guildID, parentID string, maxIdle time.Duration) (int, error) {
	return m.sweep(ctx, guildID, parentID, maxIdle, nil)
}

// sweep runs SweepIdle, calling keep before each workspace is examined.
func (m *Manager) sweep(ctx context.Context, guildID, parentID string, maxIdle time.Duration, keep func(ctx context.Context) error) (int, error) {
	if maxIdle <= 0 {
		maxIdle = m.maxIdle
	}

	list, err := m.platform.ActiveWorkspaces(ctx, guildID, parentID)
	if err != nil {
		return 0, fmt.Errorf("workspace: list active: %w", err)
	}

	now := m.now().UTC()
	deleted := 0
	for _, ws := range list {
		if keep != nil {
			if err := keep(ctx); err != nil {
				return deleted, fmt.Errorf("workspace: keep sweep lease: %w", err)
			}
		}

		last, err := m.lastActivity(ctx, ws)
		if err != nil {
			if ctx.Err() != nil {
				return deleted, ctx.Err()
			}
			slog.WarnContext(ctx, "workspace: last activity failed", "workspace", ws.ID, "error", err)
			continue
		}

		if now.Sub(last) <= maxIdle {
			continue
		}

		if err := m.delete(ctx, ws.ID); err != nil {
			if ctx.Err() != nil {
				return deleted, ctx.Err()
			}
			slog.WarnContext(ctx, "workspace: delete idle failed", "workspace", ws.ID, "error", err)
			continue
		}

		deleted++
		telemetry.WorkspacesSwept.Inc()
		slog.InfoContext(ctx, "workspace: deleted idle", "guild", guildID, "workspace", ws.ID, "idle_since", last)

		if m.eb != nil {
			m.eb.Publish(ctx, domain.EventWorkspaceSwept{
				GuildID:     guildID,
				WorkspaceID: ws.ID,
				ParentID:    parentID,
				IdleSince:   last,
			})
		}
	}

	return deleted, nil
}

func (m *Manager) lastActivity(ctx context.Context, ws domain.Workspace) (time.Time, error) {
	if ws.LastMessageAt != nil {
		return ws.LastMessageAt.UTC(), nil
	}
	if ws.LastMessageID == "" {
		return ws.CreatedAt.UTC(), nil
	}

	var last time.Time
	err := m.locked(ctx, m.fetchWait, func() error {
		t, err := m.platform.LastMessageTime(ctx, ws.ID, ws.LastMessageID)
		if err != nil {
			return err
		}
		last = t
		return nil
	})
	if errors.Is(err, errors.CodeNotFound) {
		return ws.CreatedAt.UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return last.UTC(), nil
}

func (m *Manager) delete(ctx context.Context, id string) error {
	return m.locked(ctx, m.delWait, func() error {
		return m.platform.DeleteWorkspace(ctx, id, deleteReason)
	})
}

// locked runs fn holding the sweep lock, after waiting delay.
func (m *Manager) locked(ctx context.Context, delay time.Duration, fn func() error) error {
	if err := m.sweepLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sweepLock.Release(1)

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return fn()
}

// Run sweeps the quiz channel of every configured guild on each tick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.newTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			m.sweepAll(ctx)
		}
	}
}

func (m *Manager) sweepAll(ctx context.Context) {
	if m.catalog == nil {
		return
	}

	for _, guildID := range m.catalog.GuildIDs() {
		g, _ := m.catalog.Guild(guildID)
		parent := g.Settings().QuizChannel
		if parent == "" {
			continue
		}

		var keep func(ctx context.Context) error
		if m.lease != nil {
			key := "sweep:" + guildID
			ok, err := m.lease.Acquire(ctx, key, m.leaseTTL())
			if err != nil {
				slog.WarnContext(ctx, "workspace: acquire sweep lease failed", "guild", guildID, "error", err)
				continue
			}
			if !ok {
				continue
			}

			keep = func(ctx context.Context) error {
				ok, err := m.lease.Extend(ctx, key, m.leaseTTL())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("lease %s lost", key)
				}
				return nil
			}
		}

		if _, err := m.sweep(ctx, guildID, parent, m.maxIdle, keep); err != nil {
			slog.ErrorContext(ctx, "workspace: sweep failed", "guild", guildID, "error", err)
		}
	}
}

// leaseTTL covers one interval plus the throttled calls made for a single workspace.
// The lease is extended before every workspace, so a long sweep keeps it.
func (m *Manager) leaseTTL() time.Duration {
	return m.interval + m.fetchWait + m.delWait
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }

func (t *timeTicker) Stop() { t.t.Stop() }

// RedisLease lets one instance sweep a guild per interval.
type RedisLease struct {
	Redis  redis.UniversalClient
	Prefix string
	// Owner identifies the holding instance. Only the owner can extend a lease.
	Owner string
}

var extendLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.Redis.SetNX(ctx, l.key(key), l.Owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}

// Extend pushes the expiry of a lease held by l.Owner. It reports false once the lease is gone.
func (l RedisLease) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := extendLease.Run(ctx, l.Redis, []string{l.key(key)}, l.Owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend: %w", err)
	}
	return n == 1, nil
}

func (l RedisLease) key(key string) string {
	return fmt.Sprintf("%s:%s", l.Prefix, key)
}
