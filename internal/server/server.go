package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/levelup/internal/api"
	"github.com/victornm/levelup/internal/catalog"
	"github.com/victornm/levelup/internal/config"
	"github.com/victornm/levelup/internal/cooldown"
	"github.com/victornm/levelup/internal/discord"
	"github.com/victornm/levelup/internal/event"
	"github.com/victornm/levelup/internal/platform"
	"github.com/victornm/levelup/internal/progression"
	"github.com/victornm/levelup/internal/quizmenu"
	"github.com/victornm/levelup/internal/report"
	"github.com/victornm/levelup/internal/store"
	"github.com/victornm/levelup/internal/store/memory"
	"github.com/victornm/levelup/internal/store/postgres"
	"github.com/victornm/levelup/internal/store/sqlite"
	"github.com/victornm/levelup/internal/telemetry"
	"github.com/victornm/levelup/internal/workspace"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	Log config.Log

	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	// Ranks is the path of the rank catalog file.
	Ranks string

	Discord struct {
		Token         string
		QuizBotID     string
		CommandMarker string
	}

	Store struct {
		Driver   string
		SQLite   string
		Postgres postgres.Config
	}

	// Redis clients are optional. Without them reports are not cached, sweeps are not
	// coordinated across instances and nothing is published.
	Redis struct {
		Cache  RedisConfig
		Pubsub RedisConfig
	}

	Report struct {
		BaseURL     string
		SettleDelay time.Duration
		CacheTTL    time.Duration
	}

	Sweep struct {
		Interval    time.Duration
		MaxIdle     time.Duration
		FetchDelay  time.Duration
		DeleteDelay time.Duration
	}

	Auth struct {
		JWTSecret string
	}
}

// DefaultConfig returns the values used for settings missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.Log = config.Log{Level: "info", Format: "json"}
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Ranks = "config/ranks.yaml"
	c.Discord.QuizBotID = quizmenu.DefaultQuizBotID
	c.Store.Driver = StoreSQLite
	c.Store.SQLite = "data/levelup.db"
	c.Redis.Cache.Prefix = "levelup"
	c.Redis.Pubsub.Prefix = "levelup"
	c.Report.BaseURL = report.DefaultBaseURL
	c.Report.SettleDelay = report.DefaultSettleDelay
	c.Report.CacheTTL = report.DefaultCacheTTL
	c.Sweep.Interval = workspace.DefaultSweepInterval
	c.Sweep.MaxIdle = workspace.DefaultMaxIdle
	c.Sweep.FetchDelay = time.Second
	c.Sweep.DeleteDelay = time.Minute
	return c
}

type Server struct {
	c Config

	eb      *event.Bus
	catalog *catalog.Catalog

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		store   store.Store
		discord *discordgo.Session
	}

	service struct {
		engine    *progression.Engine
		workspace *workspace.Manager
		bot       *discord.Bot
	}

	http *http.Server
	grpc *grpc.Server
}

func Init(ctx context.Context, c Config) (*Server, error) {
	s := &Server{c: c}

	var err error
	s.catalog, err = catalog.Load(c.Ranks)
	if err != nil {
		return nil, fmt.Errorf("server: load ranks: %w", err)
	}

	s.eb = event.NewBus(event.WithObserver(telemetry.ObserveEventHandler))

	if err := s.initInfra(ctx); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra(ctx context.Context) error {
	if err := s.initRedis(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	d, err := discordgo.New("Bot " + s.c.Discord.Token)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	s.infra.discord = d

	return nil
}

func (s *Server) initRedis(ctx context.Context) error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.cache, err = connect(s.c.Redis.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore(ctx context.Context) error {
	switch s.c.Store.Driver {
	case StoreMemory:
		s.infra.store = memory.New()
	case StoreSQLite:
		st, err := sqlite.Open(s.c.Store.SQLite)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		s.infra.store = st
	case StorePostgres:
		st, err := postgres.Connect(ctx, s.c.Store.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		s.infra.store = st
	default:
		return fmt.Errorf("unknown driver %q", s.c.Store.Driver)
	}
	return nil
}

func (s *Server) initService() {
	p := discord.NewPlatform(s.infra.discord)

	tracker := cooldown.NewTracker(cooldown.Config{Store: s.infra.store})

	var reports platform.ReportFetcher
	client := report.NewClient(report.Config{
		BaseURL:     s.c.Report.BaseURL,
		SettleDelay: s.c.Report.SettleDelay,
	})
	reports = client
	if s.infra.redis.cache != nil {
		reports = report.NewCache(report.CacheConfig{
			Fetcher: client,
			Redis:   s.infra.redis.cache,
			Prefix:  s.c.Redis.Cache.Prefix,
			TTL:     s.c.Report.CacheTTL,
		})
	}

	var lease workspace.Lease
	if s.infra.redis.cache != nil {
		lease = workspace.RedisLease{
			Redis:  s.infra.redis.cache,
			Prefix: s.c.Redis.Cache.Prefix,
			Owner:  uuid.NewString(),
		}
	}

	s.service.workspace = workspace.NewManager(workspace.Config{
		Store:       s.infra.store,
		Platform:    p,
		Catalog:     s.catalog,
		EventBus:    s.eb,
		Lease:       lease,
		MaxIdle:     s.c.Sweep.MaxIdle,
		Interval:    s.c.Sweep.Interval,
		FetchDelay:  s.c.Sweep.FetchDelay,
		DeleteDelay: s.c.Sweep.DeleteDelay,
	})

	s.service.engine = progression.NewEngine(progression.Config{
		Catalog:       s.catalog,
		Store:         s.infra.store,
		Cooldown:      tracker,
		Roles:         p,
		Messenger:     p,
		Reports:       reports,
		Workspaces:    s.service.workspace,
		EventBus:      s.eb,
		CommandMarker: s.c.Discord.CommandMarker,
	})

	menus := quizmenu.NewRegistry(quizmenu.Config{
		Catalog:    s.catalog,
		Cooldown:   tracker,
		Workspaces: s.service.workspace,
		Messenger:  p,
		QuizBotID:  s.c.Discord.QuizBotID,
	})

	discord.NewNotifier(p, s.eb)
	s.service.bot = discord.NewBot(discord.Config{
		Session:   s.infra.discord,
		Engine:    s.service.engine,
		Chat:      p,
		Menus:     menus,
		QuizBotID: s.c.Discord.QuizBotID,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors(slog.Default())...)
	healthpb.RegisterHealthServer(s.grpc, health.NewServer())

	var pubsub api.Redis
	if s.infra.redis.pubsub != nil {
		pubsub = s.infra.redis.pubsub
	}

	api.New(api.Config{
		Engine:       s.service.engine,
		EventBus:     s.eb,
		Redis:        pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		JWTSecret:    s.c.Auth.JWTSecret,
	}).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves until ctx is done or a component fails.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	if err := s.service.bot.Open(s.catalog.GuildIDs()); err != nil {
		lis.Close()
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.service.workspace.Run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
		return err
	}
	return nil
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.service.bot.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close discord session failed", "error", err)
	}

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	if s.infra.store != nil {
		if err := s.infra.store.Close(); err != nil {
			slog.Error("server: close store failed", "error", err)
		}
	}

	for _, r := range []redis.UniversalClient{s.infra.redis.cache, s.infra.redis.pubsub} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil {
			slog.Error("server: close redis failed", "error", err)
		}
	}
}
