// Package workspace allocates one reusable quiz workspace per user and
// reclaims workspaces that stay idle for too long.
package workspace

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/event"
	"github.com/victornm/levelup/internal/platform"
)

const (
	DefaultMaxIdle       = 14 * 24 * time.Hour
	DefaultSweepInterval = time.Minute

	maxNameLength = 100
	deleteReason  = "Thread inactive."
)

type Store interface {
	UpsertWorkspaceMapping(ctx context.Context, userID, workspaceID string) error
	WorkspaceMappingFor(ctx context.Context, userID string) (string, bool, error)
	DeleteWorkspaceMapping(ctx context.Context, userID string) error
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Lease grants the right to run one sweep. Several instances may share a lease.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Config struct {
	Store    Store
	Platform platform.Workspaces
	Catalog  *catalog.Catalog
	EventBus *event.Bus
	Lease    Lease
	Now      func() time.Time
	MaxIdle  time.Duration
	Interval time.Duration
	// FetchDelay and DeleteDelay throttle the sweep's remote calls. Zero disables them.
	FetchDelay    time.Duration
	DeleteDelay   time.Duration
	NewTickerFunc func(d time.Duration) Ticker
}

type Manager struct {
	store     Store
	platform  platform.Workspaces
	catalog   *catalog.Catalog
	eb        *event.Bus
	lease     Lease
	now       func() time.Time
	maxIdle   time.Duration
	interval  time.Duration
	fetchWait time.Duration
	delWait   time.Duration
	newTicker func(d time.Duration) Ticker

	// sweepLock serializes remote fetch and delete calls made by sweeps.
	sweepLock *semaphore.Weighted
}

func NewManager(c Config) *Manager {
	m := &Manager{
		store:     c.Store,
		platform:  c.Platform,
		catalog:   c.Catalog,
		eb:        c.EventBus,
		lease:     c.Lease,
		now:       c.Now,
		maxIdle:   c.MaxIdle,
		interval:  c.Interval,
		fetchWait: c.FetchDelay,
		delWait:   c.DeleteDelay,
		newTicker: c.NewTickerFunc,
		sweepLock: semaphore.NewWeighted(1),
	}

	if m.now == nil {
		m.now = time.Now
	}
	if m.maxIdle <= 0 {
		m.maxIdle = DefaultMaxIdle
	}
	if m.interval <= 0 {
		m.interval = DefaultSweepInterval
	}
	if m.newTicker == nil {
		m.newTicker = newTimeTicker
	}

	return m
}

// GetOrCreateWorkspace returns the user's workspace, creating one under parentID if needed.
// Lookup goes persisted mapping, local cache, remote fetch, then creation. A mapped
// workspace under another parent is not reused. The mapping is rewritten on every
// resolution and a closed workspace is reopened.
func (m *Manager) GetOrCreateWorkspace(ctx context.Context, guildID string, user domain.User, parentID string) (domain.Workspace, error) {
	ws, found, err := m.lookup(ctx, guildID, user.ID)
	if found && ws.ParentID != parentID {
		slog.InfoContext(ctx, "workspace: mapped workspace has another parent", "guild", guildID, "user", user.ID, "workspace", ws.ID, "parent", ws.ParentID)
		found = false
	}
	if err != nil {
		return domain.Workspace{}, err
	}

	if !found {
		ws, err = m.platform.CreateWorkspace(ctx, parentID, workspaceName(user.Name))
		if err != nil {
			return domain.Workspace{}, fmt.Errorf("workspace: create: %w", err)
		}
		slog.InfoContext(ctx, "workspace: created", "guild", guildID, "user", user.ID, "workspace", ws.ID)
	}

	if err := m.store.UpsertWorkspaceMapping(ctx, user.ID, ws.ID); err != nil {
		return domain.Workspace{}, fmt.Errorf("workspace: upsert mapping: %w", err)
	}

	if ws.Archived || ws.Locked {
		if err := m.platform.ReactivateWorkspace(ctx, ws.ID); err != nil {
			return domain.Workspace{}, fmt.Errorf("workspace: reactivate: %w", err)
		}
		ws.Archived, ws.Locked = false, false
	}

	return ws, nil
}

func (m *Manager) lookup(ctx context.Context, guildID, userID string) (domain.Workspace, bool, error) {
	id, ok, err := m.store.WorkspaceMappingFor(ctx, userID)
	if err != nil {
		return domain.Workspace{}, false, fmt.Errorf("workspace: mapping: %w", err)
	}
	if !ok {
		return domain.Workspace{}, false, nil
	}

	if ws, ok := m.platform.CachedWorkspace(guildID, id); ok {
		return ws, true, nil
	}

	ws, err := m.platform.FetchWorkspace(ctx, id)
	if errors.Is(err, errors.CodeNotFound) {
		if err := m.store.DeleteWorkspaceMapping(ctx, userID); err != nil {
			slog.WarnContext(ctx, "workspace: delete stale mapping failed", "user", userID, "error", err)
		}
		return domain.Workspace{}, false, nil
	}
	if err != nil {
		return domain.Workspace{}, false, fmt.Errorf("workspace: fetch: %w", err)
	}
	return ws, true, nil
}

// EnsureParticipants adds every user that is not yet a member of the workspace.
func (m *Manager) EnsureParticipants(ctx context.Context, ws domain.Workspace, userIDs ...string) error {
	var errs []error
	for _, id := range userIDs {
		if ws.HasMember(id) {
			continue
		}
		if err := m.platform.AddParticipant(ctx, ws.ID, id); err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", id, err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("workspace: ensure participants: %w", err)
	}
	return nil
}

// IsUserWorkspace reports whether channelID is the workspace mapped to the user.
func (m *Manager) IsUserWorkspace(ctx context.Context, userID, channelID string) (bool, error) {
	id, ok, err := m.store.WorkspaceMappingFor(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("workspace: mapping: %w", err)
	}
	return ok && id == channelID, nil
}

func workspaceName(userName string) string {
	name := userName + " - Quiz"
	if utf8.RuneCountInString(name) <= maxNameLength {
		return name
	}
	return string([]rune(name)[:maxNameLength])
}
