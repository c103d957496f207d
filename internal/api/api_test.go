package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/api"
	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/cooldown"
	"github.com/victornm/levelup/internal/domain"
	"github.com/victornm/levelup/internal/event"
	"github.com/victornm/levelup/internal/platform/platformtest"
	"github.com/victornm/levelup/internal/progression"
	"github.com/victornm/levelup/internal/store/memory"
)

const (
	secret = "test-secret"

	catalogYAML = `
guilds:
  "g1":
    settings:
      announce_channel: ann
      quiz_channel: quiz
    ranks:
      - {name: Bronze, command: "k!quiz bronze", reward_role: r-bronze, score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [bronze]}
      - {name: Silver, command: "k!quiz silver", reward_role: r-silver, score_limit: 10, max_missed: 2, time_limit_ms: 16000, decks: [silver]}
`
)

var now = time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	api     *api.API
	router  *gin.Engine
	bus     *event.Bus
	reports *platformtest.Reports
	store   *memory.Store
	tracker *cooldown.Tracker
	redis   redis.UniversalClient
}

func makeAPI(t *testing.T) *fixture {
	t.Helper()

	c, err := catalog.Parse([]byte(catalogYAML))
	require.NoError(t, err)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	f := &fixture{
		bus:     event.NewBus(),
		reports: platformtest.NewReports(),
		store:   memory.New(),
		redis:   rc,
	}
	t.Cleanup(f.bus.Stop)

	f.tracker = cooldown.NewTracker(cooldown.Config{Store: f.store, Now: func() time.Time { return now }})
	p := platformtest.New()

	engine := progression.NewEngine(progression.Config{
		Catalog:    c,
		Store:      f.store,
		Cooldown:   f.tracker,
		Roles:      p,
		Messenger:  p,
		Reports:    f.reports,
		Workspaces: noWorkspaces{},
		EventBus:   f.bus,
	})

	f.api = api.New(api.Config{
		Engine:       engine,
		EventBus:     f.bus,
		Redis:        rc,
		PubsubPrefix: "levelup",
		JWTSecret:    secret,
	})

	f.router = gin.New()
	f.api.Register(f.router)
	return f
}

type noWorkspaces struct{}

func (noWorkspaces) IsUserWorkspace(context.Context, string, string) (bool, error) { return false, nil }

func (f *fixture) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func passing(id, user, deck string) domain.QuizReport {
	return domain.QuizReport{
		ID:            id,
		Participants:  []string{user},
		Scores:        map[string]int{user: 10},
		QuestionCount: 10,
		Settings:      domain.ReportSettings{Shuffle: true, ScoreLimit: 10, AnswerTimeLimitMs: 16000},
		Decks:         []domain.Deck{{ShortName: deck}},
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func adminToken(t *testing.T) string {
	t.Helper()

	tok, err := api.SignAdminToken(secret, "ops", time.Hour)
	require.NoError(t, err)
	return tok
}

func TestAPI_ProcessReport(t *testing.T) {
	f := makeAPI(t)
	admin := adminToken(t)
	f.reports.Add(passing("r1", "u1", "bronze"))

	w := f.do(t, http.MethodPost, "/v1/guilds/g1/reports/r1", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/v1/guilds/g1/reports/r1", admin)
	require.Equal(t, http.StatusOK, w.Code)

	out := decode[api.Outcome](t, w)
	assert.Equal(t, "rewarded", out.State)
	assert.Equal(t, "Bronze", out.RewardedRank)
	assert.Equal(t, "u1", out.UserID)
	assert.NotEmpty(t, out.EvaluationID)

	w = f.do(t, http.MethodPost, "/v1/guilds/g1/reports/missing", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dropped", decode[api.Outcome](t, w).State)
}

func TestAPI_ProcessReport_OnCooldown(t *testing.T) {
	f := makeAPI(t)
	_, err := f.tracker.RecordAttempt(context.Background(), "g1", "u1", "Bronze", now)
	require.NoError(t, err)
	f.reports.Add(passing("r-elsewhere", "u1", "bronze"))

	w := f.do(t, http.MethodPost, "/v1/guilds/g1/reports/r-elsewhere", adminToken(t))
	require.Equal(t, http.StatusOK, w.Code)

	out := decode[api.Outcome](t, w)
	assert.Equal(t, "rejected", out.State)
	assert.Empty(t, out.RewardedRank)
	require.NotNil(t, out.NextEligible)
	assert.True(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Equal(*out.NextEligible))
}

func TestAPI_GetCooldown(t *testing.T) {
	f := makeAPI(t)
	_, err := f.tracker.RecordAttempt(context.Background(), "g1", "u1", "Silver", now.Add(-time.Hour))
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/guilds/g1/users/u1/cooldowns/silver", "")
	require.Equal(t, http.StatusOK, w.Code)

	cd := decode[api.Cooldown](t, w)
	assert.Equal(t, "Silver", cd.Quiz)
	assert.True(t, cd.OnCooldown)
	require.NotNil(t, cd.NextEligible)
	assert.True(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Equal(*cd.NextEligible))

	w = f.do(t, http.MethodGet, "/v1/guilds/g1/users/u1/cooldowns/Platinum", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/v1/guilds/g404/users/u1/cooldowns/Bronze", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ResetCooldown(t *testing.T) {
	admin, err := api.SignAdminToken(secret, "ops", time.Hour)
	require.NoError(t, err)
	other, err := api.SignAdminToken("another-secret", "ops", time.Hour)
	require.NoError(t, err)
	expired, err := api.SignAdminToken(secret, "ops", -time.Hour)
	require.NoError(t, err)

	tests := map[string]struct {
		token string
		path  string
		code  int
	}{
		"missing token":        {path: "/v1/guilds/g1/users/u1/cooldowns", code: http.StatusUnauthorized},
		"foreign token":        {token: other, path: "/v1/guilds/g1/users/u1/cooldowns", code: http.StatusUnauthorized},
		"expired token":        {token: expired, path: "/v1/guilds/g1/users/u1/cooldowns", code: http.StatusUnauthorized},
		"invalid quiz name":    {token: admin, path: "/v1/guilds/g1/users/u1/cooldowns?quiz=Platinum", code: http.StatusBadRequest},
		"resets one quiz":      {token: admin, path: "/v1/guilds/g1/users/u1/cooldowns?quiz=bronze", code: http.StatusOK},
		"resets every quiz":    {token: admin, path: "/v1/guilds/g1/users/u1/cooldowns", code: http.StatusOK},
		"unknown guild":        {token: admin, path: "/v1/guilds/g404/users/u1/cooldowns", code: http.StatusNotFound},
		"malformed auth value": {token: "not-a-jwt", path: "/v1/guilds/g1/users/u1/cooldowns", code: http.StatusUnauthorized},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := makeAPI(t)
			for _, q := range []string{"Bronze", "Silver"} {
				_, err := f.tracker.RecordAttempt(context.Background(), "g1", "u1", q, now)
				require.NoError(t, err)
			}

			w := f.do(t, http.MethodDelete, tt.path, tt.token)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestAPI_ResetCooldownCount(t *testing.T) {
	f := makeAPI(t)
	for _, q := range []string{"Bronze", "Silver"} {
		_, err := f.tracker.RecordAttempt(context.Background(), "g1", "u1", q, now)
		require.NoError(t, err)
	}
	admin, err := api.SignAdminToken(secret, "ops", time.Hour)
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/v1/guilds/g1/users/u1/cooldowns", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]int](t, w)["deleted"])
}

func TestAPI_ListRanks(t *testing.T) {
	f := makeAPI(t)

	w := f.do(t, http.MethodGet, "/v1/guilds/g1/users/u1/ranks", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Ranks []api.Rank `json:"ranks"`
	}](t, w)
	require.Len(t, resp.Ranks, 2)
	assert.Equal(t, "Bronze", resp.Ranks[0].Name)
	assert.Equal(t, "k!quiz bronze", resp.Ranks[0].Command)

	w = f.do(t, http.MethodGet, "/v1/guilds/g404/users/u1/ranks", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_RankTable(t *testing.T) {
	f := makeAPI(t)
	for _, p := range []domain.PassedQuiz{
		{GuildID: "g1", UserID: "u1", QuizName: "Bronze"},
		{GuildID: "g1", UserID: "u2", QuizName: "Bronze"},
		{GuildID: "g1", UserID: "u2", QuizName: "Silver"},
		{GuildID: "g1", UserID: "u3", QuizName: "Silver"},
	} {
		_, err := f.store.InsertPassedQuizIfAbsent(context.Background(), p)
		require.NoError(t, err)
	}

	w := f.do(t, http.MethodGet, "/v1/guilds/g1/ranktable", "")
	require.Equal(t, http.StatusOK, w.Code)

	table := decode[api.RankTable](t, w)
	assert.Equal(t, 3, table.RankedUsers)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, "33.33", table.Entries[0].Percent, "u2 counts at Silver only")
	assert.Equal(t, 2, table.Entries[1].Users)
}

func TestAPI_PublishesToPubsub(t *testing.T) {
	f := makeAPI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := f.redis.Subscribe(ctx, "levelup:guild:g1", "levelup:guild:g1:user:u1")
	t.Cleanup(func() { _ = ps.Close() })
	_, err := ps.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	f.reports.Add(passing("r1", "u1", "bronze"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/guilds/g1/reports/r1", adminToken(t)).Code)

	seen := make(map[string]api.Notification)
	for len(seen) < 2 {
		msg, err := ps.ReceiveMessage(ctx)
		require.NoError(t, err)

		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		seen[msg.Channel] = n
	}

	for _, n := range seen {
		assert.Equal(t, domain.EventNameRankAwarded, n.Event)
		assert.Equal(t, "g1", n.GuildID)
		assert.Equal(t, "u1", n.UserID)
	}
}
