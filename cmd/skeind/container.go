package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/skeinhq/skein/pkg/api"
	"github.com/skeinhq/skein/pkg/arf"
	"github.com/skeinhq/skein/pkg/cache"
	"github.com/skeinhq/skein/pkg/config"
	"github.com/skeinhq/skein/pkg/credentials"
	"github.com/skeinhq/skein/pkg/destination"
	"github.com/skeinhq/skein/pkg/domain"
	"github.com/skeinhq/skein/pkg/events"
	"github.com/skeinhq/skein/pkg/observability"
	"github.com/skeinhq/skein/pkg/ratelimit"
	"github.com/skeinhq/skein/pkg/source"
	"github.com/skeinhq/skein/pkg/store"
	"github.com/skeinhq/skein/pkg/syncer"
	"github.com/skeinhq/skein/pkg/usage"
	"github.com/skeinhq/skein/pkg/webhook"
)

// runtimeVersion gates source connector compatibility ranges.
var runtimeVersion = semver.MustParse("0.1.0")

// Container is the composition root: every long-lived component of the
// process, wired once at startup.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Obs     *observability.Provider
	Bus     *events.Bus
	Usage   *usage.Factory
	Handler http.Handler

	db    *sql.DB
	redis *redis.Client
}

// build assembles the container from config. Backends are selected here and
// nowhere else; everything below works against interfaces.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "skeind",
		Environment:  envName(cfg),
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEnabled,
		Insecure:     cfg.OTELInsecure,
	})
	if err != nil {
		return nil, err
	}
	c.Obs = obs

	control := store.NewMemoryControl()
	c.Bus = events.NewBus(logger)

	// Record, job, and cursor persistence.
	var (
		records     store.EntityRecordStore
		collRecords store.CollectionRecordStore
		jobs        store.SyncJobStore
		cursors     store.CursorStore
		ledger      usage.Ledger
		credStore   credentials.Store
	)

	cipher, err := buildCipher(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		c.db = db
		pg := store.NewPostgres(db)
		if err := pg.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		records = pg.EntityRecords()
		collRecords = pg.CollectionRecords()
		jobs = pg.SyncJobs()
		cursors = pg.Cursors()

		pgLedger := usage.NewPostgresLedger(db)
		if err := pgLedger.Init(ctx); err != nil {
			return nil, fmt.Errorf("init usage ledger: %w", err)
		}
		ledger = pgLedger

		pgCreds := credentials.NewPostgresStore(db, cipher)
		if err := pgCreds.Init(ctx); err != nil {
			return nil, fmt.Errorf("init credential store: %w", err)
		}
		credStore = pgCreds

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		c.db = db
		sqliteRecords, err := store.NewSQLiteEntityRecords(db)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		mem := store.NewMemory()
		records = sqliteRecords
		collRecords = store.MemoryCollectionRecordStore{Memory: mem}
		jobs = mem
		cursors = store.MemoryCursorStore{Memory: mem}
		ledger = usage.NewMemoryLedger()
		credStore = credentials.NewMemoryStore(cipher)

	default:
		mem := store.NewMemory()
		records = mem
		collRecords = store.MemoryCollectionRecordStore{Memory: mem}
		jobs = mem
		cursors = store.MemoryCursorStore{Memory: mem}
		ledger = usage.NewMemoryLedger()
		credStore = credentials.NewMemoryStore(cipher)
	}

	// Ingress cache and rate limiter.
	var (
		ctxCache cache.ContextCache
		limStore ratelimit.Store
	)
	if cfg.CacheBackend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		c.redis = redis.NewClient(opts)
		ctxCache = cache.NewRedisCache(c.redis, logger)
		limStore = ratelimit.NewRedisStore(c.redis)
	} else {
		ctxCache = cache.NewMemoryCache()
		limStore = ratelimit.NewMemoryStore()
	}

	// Usage guardrail factory; plans resolve through the control store.
	c.Usage = usage.NewFactory(ledger, func(ctx context.Context, orgID uuid.UUID) (domain.Plan, error) {
		org, err := control.GetOrganization(ctx, orgID)
		if err != nil {
			return domain.Plan{}, err
		}
		plan, ok := domain.PlanFor(org.PlanID)
		if !ok {
			return domain.Plan{}, fmt.Errorf("organization %s has unknown plan %q", orgID, org.PlanID)
		}
		return plan, nil
	})

	archive, err := arf.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("init archive store: %w", err)
	}

	syncs := syncer.NewService(syncer.Deps{
		Control:           control,
		Jobs:              jobs,
		Records:           records,
		CollectionRecords: collRecords,
		Cursors:           cursors,
		Credentials:       credStore,
		Archive:           archive,
		Sources:           source.NewRegistry(),
		RuntimeVersion:    runtimeVersion,
		OpenDestination:   openDestination,
		Embedders: func(domain.EmbeddingConfig) (destination.DenseEmbedder, destination.SparseEmbedder, error) {
			return nil, nil, nil
		},
		Bus:          c.Bus,
		Usage:        c.Usage,
		Logger:       logger,
		BatchSize:    cfg.SyncBatchSize,
		BatchTimeout: cfg.SyncBatchTimeout,
	})

	// Event subscribers.
	events.RegisterBillingSubscriber(c.Bus, c.Usage)
	if cfg.WebhookEndpoint != "" {
		publisher, err := webhook.NewPublisher(webhook.Config{
			Endpoint: cfg.WebhookEndpoint,
			Secret:   cfg.WebhookSecret,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init webhook publisher: %w", err)
		}
		events.RegisterWebhookSubscriber(c.Bus, publisher)
	}
	if c.redis != nil {
		events.RegisterProgressRelay(c.Bus, c.redis, logger)
	}

	// HTTP surface.
	server := api.NewServer(api.ServerDeps{
		Control:     control,
		Jobs:        jobs,
		Syncs:       syncs,
		Credentials: credStore,
		Usage:       c.Usage,
		Bus:         c.Bus,
		Debug:       cfg.Debug,
		Logger:      logger,
	})
	auth := &api.Authenticator{
		Cache:    ctxCache,
		Control:  control,
		Limiter:  ratelimit.NewLimiter(limStore),
		Verifier: buildVerifier(cfg),
		Debug:    cfg.Debug,
		Logger:   logger,
	}
	ipLimiter := api.NewIPLimiter(cfg.RateLimitRequests, cfg.RateLimitRequests*2, cfg.Debug)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/", ipLimiter.Middleware(auth.Middleware(server.Routes())))
	c.Handler = mux
	return c, nil
}

// Close releases backend connections after the bus has drained.
func (c *Container) Close(ctx context.Context) {
	if err := c.Usage.FlushAll(ctx); err != nil {
		c.Logger.Error("final usage flush failed", "error", err)
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if err := c.Obs.Shutdown(ctx); err != nil {
		c.Logger.Error("observability shutdown failed", "error", err)
	}
}

func buildCipher(cfg *config.Config) (*credentials.Cipher, error) {
	key, err := cfg.DecodeCredentialKey()
	if err != nil {
		// Dev mode: derive an ephemeral key so the process still starts.
		if cfg.Debug {
			ephemeral := make([]byte, 32)
			return credentials.NewCipher(ephemeral)
		}
		return nil, err
	}
	return credentials.NewCipher(key)
}

func buildVerifier(cfg *config.Config) api.TokenVerifier {
	if cfg.Auth0Domain == "" || cfg.Auth0ClientSecret == "" {
		return nil
	}
	secret := []byte(cfg.Auth0ClientSecret)
	return &api.Auth0Verifier{
		Issuer:   "https://" + cfg.Auth0Domain + "/",
		Audience: cfg.Auth0Audience,
		Methods:  []string{"HS256"},
		Keyfunc:  func(*jwt.Token) (any, error) { return secret, nil },
	}
}

// openDestination builds the in-process destination for a slot. Vendor
// destination clients register here.
func openDestination(_ context.Context, slot domain.SyncConnection, _ domain.EmbeddingConfig) (destination.Destination, error) {
	return destination.NewMemory(slot.ConnectionID, destination.TextOnly), nil
}

func envName(cfg *config.Config) string {
	if cfg.Debug {
		return "development"
	}
	return "production"
}
