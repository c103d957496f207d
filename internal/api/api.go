// Package api exposes the progression engine over HTTP and fans its events out
// to Redis pubsub and websocket subscribers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/errors"
	"github.com/victornm/levelup/internal/event"
	"github.com/victornm/levelup/internal/progression"
)

type Config struct {
	Engine       *progression.Engine
	EventBus     *event.Bus
	Redis        Redis
	PubsubPrefix string
	// JWTSecret signs admin tokens. Admin routes reject every request when it is empty.
	JWTSecret string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	engine *progression.Engine
	redis  Redis
	prefix string
	secret []byte
	hub    *Hub
}

func New(c Config) *API {
	a := &API{
		engine: c.Engine,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		secret: []byte(c.JWTSecret),
		hub:    NewHub(),
	}

	// Register event handlers
	c.EventBus.Subscribe(a.handleEvent, domain.EventNames...)

	return a
}

// Register mounts the HTTP routes on r.
func (a *API) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.GET("/events", a.hub.ServeWS)

	g := v1.Group("/guilds/:guild")
	g.POST("/reports/:report", a.requireAdmin, a.ProcessReport)
	g.GET("/ranktable", a.RankTable)
	g.GET("/users/:user/ranks", a.ListRanks)
	g.GET("/users/:user/cooldowns/:quiz", a.GetCooldown)
	g.DELETE("/users/:user/cooldowns", a.requireAdmin, a.ResetCooldown)
}

// Hub returns the websocket hub receiving the engine's events.
func (a *API) Hub() *Hub { return a.hub }

func (a *API) handleEvent(ctx context.Context, e event.Event) error {
	n, ok := toNotification(e)
	if !ok {
		return nil
	}

	a.hub.Broadcast(n)

	if a.redis == nil {
		return nil
	}
	return a.publishNotification(ctx, n)
}

type (
	Outcome struct {
		EvaluationID string     `json:"evaluation_id"`
		GuildID      string     `json:"guild_id"`
		UserID       string     `json:"user_id,omitempty"`
		State        string     `json:"state"`
		Rank         string     `json:"rank,omitempty"`
		RewardedRank string     `json:"rewarded_rank,omitempty"`
		Composite    string     `json:"composite,omitempty"`
		Message      string     `json:"message,omitempty"`
		NextEligible *time.Time `json:"next_eligible,omitempty"`
	}

	Cooldown struct {
		Quiz         string     `json:"quiz"`
		OnCooldown   bool       `json:"on_cooldown"`
		NextEligible *time.Time `json:"next_eligible,omitempty"`
	}

	Rank struct {
		Name            string     `json:"name"`
		Command         string     `json:"command,omitempty"`
		RewardRole      string     `json:"reward_role,omitempty"`
		RequiredRole    string     `json:"required_role,omitempty"`
		Composite       bool       `json:"composite,omitempty"`
		RequiredQuizzes []string   `json:"required_quizzes,omitempty"`
		OnCooldown      bool       `json:"on_cooldown"`
		NextEligible    *time.Time `json:"next_eligible,omitempty"`
	}

	RankTable struct {
		GuildID     string           `json:"guild_id"`
		RankedUsers int              `json:"ranked_users"`
		Entries     []RankTableEntry `json:"entries"`
	}

	RankTableEntry struct {
		Name       string `json:"name"`
		RewardRole string `json:"reward_role"`
		Users      int    `json:"users"`
		Percent    string `json:"percent"`
	}
)

func (a *API) ProcessReport(c *gin.Context) {
	out, err := a.engine.ProcessReport(c.Request.Context(), c.Param("guild"), c.Param("report"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOutcome(out))
}

func (a *API) GetCooldown(c *gin.Context) {
	st, err := a.engine.CooldownStatus(c.Request.Context(), c.Param("guild"), c.Param("user"), c.Param("quiz"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Cooldown{
		Quiz:         st.Quiz,
		OnCooldown:   st.OnCooldown,
		NextEligible: timePtr(st.NextEligible),
	})
}

func (a *API) ResetCooldown(c *gin.Context) {
	n, err := a.engine.ResetCooldown(c.Request.Context(), c.Param("guild"), c.Param("user"), c.Query("quiz"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (a *API) ListRanks(c *gin.Context) {
	list, err := a.engine.ListRanks(c.Request.Context(), c.Param("guild"), c.Param("user"))
	if err != nil {
		writeError(c, err)
		return
	}

	ranks := make([]Rank, 0, len(list))
	for _, l := range list {
		ranks = append(ranks, Rank{
			Name:            l.Name,
			Command:         l.Command,
			RewardRole:      l.RewardRole,
			RequiredRole:    l.RequiredRole,
			Composite:       l.Composite,
			RequiredQuizzes: l.RequiredQuizzes,
			OnCooldown:      l.OnCooldown,
			NextEligible:    timePtr(l.NextEligible),
		})
	}

	c.JSON(http.StatusOK, gin.H{"ranks": ranks})
}

func (a *API) RankTable(c *gin.Context) {
	t, err := a.engine.Distribution(c.Request.Context(), c.Param("guild"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := RankTable{
		GuildID:     t.GuildID,
		RankedUsers: t.RankedUsers,
		Entries:     make([]RankTableEntry, 0, len(t.Entries)),
	}
	for _, e := range t.Entries {
		resp.Entries = append(resp.Entries, RankTableEntry{
			Name:       e.Name,
			RewardRole: e.RewardRole,
			Users:      e.Users,
			Percent:    e.Percent.StringFixed(2),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toOutcome(o domain.Outcome) Outcome {
	return Outcome{
		EvaluationID: o.EvaluationID,
		GuildID:      o.GuildID,
		UserID:       o.UserID,
		State:        string(o.State),
		Rank:         o.Rank,
		RewardedRank: o.RewardedRank,
		Composite:    o.Composite,
		Message:      o.Message,
		NextEligible: timePtr(o.NextEligible),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
