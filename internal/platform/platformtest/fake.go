// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/platform"
)

type Message struct {
	Channel string
	Text    string
}

type RoleCall struct {
	Op    string
	Guild string
	User  string
	Roles []string
}

type Timeout struct {
	Guild    string
	User     string
	Duration time.Duration
	Reason   string
}

// Fake implements every platform interface in memory.
type Fake struct {
	mu sync.Mutex

	roles      map[string]map[string]bool
	workspaces map[string]*workspace
	messages   map[string]time.Time
	failures   map[string]error
	nextID     int

	// Now stamps created workspaces; defaults to time.Now.
	Now func() time.Time

	Sent      []Message
	RoleCalls []RoleCall
	Deleted   []string
	Created   []string
	Timeouts  []Timeout
	Fetches   int
}

type workspace struct {
	domain.Workspace
	guild  string
	cached bool
}

var (
	_ platform.Roles      = (*Fake)(nil)
	_ platform.Messenger  = (*Fake)(nil)
	_ platform.Workspaces = (*Fake)(nil)
	_ platform.Moderator  = (*Fake)(nil)
)

func New() *Fake {
	return &Fake{
		roles:      make(map[string]map[string]bool),
		workspaces: make(map[string]*workspace),
		messages:   make(map[string]time.Time),
		failures:   make(map[string]error),
		Now:        time.Now,
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

func (f *Fake) fail(op string) error {
	return f.failures[op]
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// GrantRole sets a role without recording a call.
func (f *Fake) GrantRole(guildID, userID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := memberKey(guildID, userID)
	if f.roles[k] == nil {
		f.roles[k] = make(map[string]bool)
	}
	f.roles[k][roleID] = true
}

// RoleMembers lists holders of the role ordered by user id. Names are the ids.
func (f *Fake) RoleMembers(_ context.Context, guildID, roleID string) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("RoleMembers"); err != nil {
		return nil, err
	}

	var out []domain.User
	for k, roles := range f.roles {
		userID, ok := strings.CutPrefix(k, guildID+"/")
		if !ok || !roles[roleID] {
			continue
		}
		out = append(out, domain.User{ID: userID, Name: userID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RolesOf returns the member's roles in ascending order.
func (f *Fake) RolesOf(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for r := range f.roles[memberKey(guildID, userID)] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (f *Fake) AssignRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("AssignRole"); err != nil {
		return err
	}

	k := memberKey(guildID, userID)
	if f.roles[k] == nil {
		f.roles[k] = make(map[string]bool)
	}
	f.roles[k][roleID] = true
	f.RoleCalls = append(f.RoleCalls, RoleCall{Op: "assign", Guild: guildID, User: userID, Roles: []string{roleID}})
	return nil
}

func (f *Fake) RemoveRoles(_ context.Context, guildID, userID string, roleIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("RemoveRoles"); err != nil {
		return err
	}

	for _, r := range roleIDs {
		delete(f.roles[memberKey(guildID, userID)], r)
	}
	f.RoleCalls = append(f.RoleCalls, RoleCall{Op: "remove", Guild: guildID, User: userID, Roles: slices.Clone(roleIDs)})
	return nil
}

func (f *Fake) HasRole(_ context.Context, guildID, userID, roleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("HasRole"); err != nil {
		return false, err
	}
	return f.roles[memberKey(guildID, userID)][roleID], nil
}

func (f *Fake) SendMessage(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("SendMessage"); err != nil {
		return err
	}
	f.Sent = append(f.Sent, Message{Channel: channelID, Text: text})
	return nil
}

// Messages returns a copy of the sent messages.
func (f *Fake) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.Sent)
}

// AddWorkspace registers an existing workspace. Cached ones are visible to CachedWorkspace.
func (f *Fake) AddWorkspace(guildID string, w domain.Workspace, cached bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.workspaces[w.ID] = &workspace{Workspace: w, guild: guildID, cached: cached}
}

// SetMessageTime makes LastMessageTime resolve messageID in the workspace.
func (f *Fake) SetMessageTime(workspaceID, messageID string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages[workspaceID+"/"+messageID] = t
}

// Workspace returns the current state of a workspace.
func (f *Fake) Workspace(id string) (domain.Workspace, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workspaces[id]
	if !ok {
		return domain.Workspace{}, false
	}
	return cloneWorkspace(w.Workspace), true
}

func (f *Fake) CreateWorkspace(_ context.Context, parentID, name string) (domain.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("CreateWorkspace"); err != nil {
		return domain.Workspace{}, err
	}

	f.nextID++
	w := domain.Workspace{
		ID:        fmt.Sprintf("ws-%d", f.nextID),
		ParentID:  parentID,
		Name:      name,
		CreatedAt: f.Now().UTC(),
	}
	f.workspaces[w.ID] = &workspace{Workspace: w, cached: true}
	f.Created = append(f.Created, w.ID)
	return cloneWorkspace(w), nil
}

func (f *Fake) FetchWorkspace(_ context.Context, id string) (domain.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Fetches++
	if err := f.fail("FetchWorkspace"); err != nil {
		return domain.Workspace{}, err
	}

	w, ok := f.workspaces[id]
	if !ok {
		return domain.Workspace{}, errors.NotFound("workspace %s not found", id)
	}
	return cloneWorkspace(w.Workspace), nil
}

func (f *Fake) CachedWorkspace(guildID, id string) (domain.Workspace, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workspaces[id]
	if !ok || !w.cached || (w.guild != "" && w.guild != guildID) {
		return domain.Workspace{}, false
	}
	return cloneWorkspace(w.Workspace), true
}

func (f *Fake) ReactivateWorkspace(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("ReactivateWorkspace"); err != nil {
		return err
	}

	w, ok := f.workspaces[id]
	if !ok {
		return errors.NotFound("workspace %s not found", id)
	}
	w.Archived, w.Locked = false, false
	return nil
}

func (f *Fake) DeleteWorkspace(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("DeleteWorkspace"); err != nil {
		return err
	}

	if _, ok := f.workspaces[id]; !ok {
		return errors.NotFound("workspace %s not found", id)
	}
	delete(f.workspaces, id)
	f.Deleted = append(f.Deleted, id)
	return nil
}

func (f *Fake) AddParticipant(_ context.Context, workspaceID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("AddParticipant"); err != nil {
		return err
	}

	w, ok := f.workspaces[workspaceID]
	if !ok {
		return errors.NotFound("workspace %s not found", workspaceID)
	}
	if !w.HasMember(userID) {
		w.Members = append(w.Members, userID)
	}
	return nil
}

func (f *Fake) ActiveWorkspaces(_ context.Context, guildID, parentID string) ([]domain.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("ActiveWorkspaces"); err != nil {
		return nil, err
	}

	var out []domain.Workspace
	for _, w := range f.workspaces {
		if w.ParentID != parentID || w.Archived || (w.guild != "" && w.guild != guildID) {
			continue
		}
		out = append(out, cloneWorkspace(w.Workspace))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) LastMessageTime(_ context.Context, workspaceID, messageID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Fetches++
	if err := f.fail("LastMessageTime"); err != nil {
		return time.Time{}, err
	}

	t, ok := f.messages[workspaceID+"/"+messageID]
	if !ok {
		return time.Time{}, errors.NotFound("message %s not found", messageID)
	}
	return t, nil
}

func (f *Fake) Timeout(_ context.Context, guildID, userID string, d time.Duration, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail("Timeout"); err != nil {
		return err
	}
	f.Timeouts = append(f.Timeouts, Timeout{Guild: guildID, User: userID, Duration: d, Reason: reason})
	return nil
}

func cloneWorkspace(w domain.Workspace) domain.Workspace {
	w.Members = slices.Clone(w.Members)
	if w.LastMessageAt != nil {
		t := *w.LastMessageAt
		w.LastMessageAt = &t
	}
	return w
}

// Reports is a platform.ReportFetcher serving reports from a map.
type Reports struct {
	mu      sync.Mutex
	reports map[string]domain.QuizReport
	Err     error
	Calls   int
}

var _ platform.ReportFetcher = (*Reports)(nil)

func NewReports() *Reports {
	return &Reports{reports: make(map[string]domain.QuizReport)}
}

func (r *Reports) Add(rep domain.QuizReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports[rep.ID] = rep
}

func (r *Reports) FetchQuizReport(_ context.Context, id string) (domain.QuizReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Calls++
	if r.Err != nil {
		return domain.QuizReport{}, r.Err
	}
	rep, ok := r.reports[id]
	if !ok {
		return domain.QuizReport{}, errors.NotFound("report %s not found", id)
	}
	return rep, nil
}
