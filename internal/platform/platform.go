// Package platform declares the chat platform operations the core consumes.
//
// Implementations return errors built with internal/errors: CodeNotFound for
// stale references and CodePermissionDenied for forbidden mutations.
package platform

import (
	"context"
	"time"

	"github.com/victornm/levelup/internal/domain"
)

type Roles interface {
	AssignRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string) error
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	// RoleMembers lists the members of the guild holding the role.
	RoleMembers(ctx context.Context, guildID, roleID string) ([]domain.User, error)
}

type Messenger interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

type Workspaces interface {
	// CreateWorkspace opens a new workspace under the parent channel.
	CreateWorkspace(ctx context.Context, parentID, name string) (domain.Workspace, error)
	// FetchWorkspace looks a workspace up remotely.
	FetchWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	// CachedWorkspace returns a workspace from the local cache without I/O.
	CachedWorkspace(guildID, id string) (domain.Workspace, bool)
	ReactivateWorkspace(ctx context.Context, id string) error
	DeleteWorkspace(ctx context.Context, id, reason string) error
	AddParticipant(ctx context.Context, workspaceID, userID string) error
	// ActiveWorkspaces lists the non-archived workspaces under a channel.
	ActiveWorkspaces(ctx context.Context, guildID, parentID string) ([]domain.Workspace, error)
	// LastMessageTime fetches the time of a message in a workspace.
	LastMessageTime(ctx context.Context, workspaceID, messageID string) (time.Time, error)
}

type ReportFetcher interface {
	FetchQuizReport(ctx context.Context, reportID string) (domain.QuizReport, error)
}

// Moderator restricts a member for a while.
type Moderator interface {
	Timeout(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
}
