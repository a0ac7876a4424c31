package bootstrap

import (
	"context"
	"fmt"
	"time"

	"triage_server/adapter/out/llm"
	"triage_server/adapter/out/mongodb"
	"triage_server/adapter/out/persistence"
	"triage_server/adapter/out/provider"
	"triage_server/config"
	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/auth"
	mail "triage_server/core/service/email"
	"triage_server/core/service/snooze"
	"triage_server/infra/database"
	"triage_server/pkg/cache"
	"triage_server/pkg/crypto"
	"triage_server/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Dependencies struct {
	Config  *config.Config
	MongoDB *mongo.Client
	SQLDB   *sqlx.DB
	Redis   *redis.Client

	// Repositories
	UserRepo     out.UserRepository
	AccountRepo  out.LinkedAccountRepository
	MetadataRepo out.EmailMetadataRepository
	SummaryRepo  out.EmailSummaryRepository
	SnoozeRepo   out.SnoozeRepository
	JobLocker    out.JobLocker

	// Providers
	GmailProvider  *provider.GmailAdapter
	GoogleIdentity *provider.GoogleIdentity

	// Services
	Tokens        *auth.TokenIssuer
	AuthService   *auth.Service
	Credentials   *mail.CredentialResolver
	Labels        *mail.LabelResolver
	MailService   *mail.Service
	SyncService   *mail.SyncService
	SnoozeService *snooze.Service
	WakeService   *snooze.WakeService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// MongoDB
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(ctx)
	})
	db := mongoClient.Database(cfg.MongoDBName)

	var cipher *crypto.TokenCipher
	if cfg.EncryptionKey != "" {
		cipher, err = crypto.NewTokenCipher(cfg.EncryptionKey)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("token cipher: %w", err)
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set, OAuth tokens are stored in plaintext")
	}

	users := mongodb.NewUserAdapter(db)
	accounts := mongodb.NewLinkedAccountAdapter(db, cipher)
	metadata := mongodb.NewEmailMetadataAdapter(db)
	summaries := mongodb.NewEmailSummaryAdapter(db)
	deps.UserRepo = users
	deps.AccountRepo = accounts
	deps.MetadataRepo = metadata
	deps.SummaryRepo = summaries

	indexers := []mongodb.Indexer{users, accounts, metadata, summaries}

	// Snooze store: Postgres when DATABASE_URL is set, MongoDB otherwise.
	if cfg.DatabaseURL != "" {
		sqlDB, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { _ = sqlDB.Close() })

		repo := persistence.NewSnoozeRepository(sqlDB)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SnoozeRepo = repo
		logger.Info("Snooze store: postgres")
	} else {
		snoozes := mongodb.NewSnoozeAdapter(db)
		indexers = append(indexers, snoozes)
		deps.SnoozeRepo = snoozes
		logger.Info("Snooze store: mongodb")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = mongodb.EnsureIndexes(ctx, indexers...)
	cancel()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Redis is optional: without it labels are cached per process and
	// jobs are guarded in-process only.
	var labelCache cache.Cache = cache.NewMemoryCache(10000, 10*time.Minute)
	deps.JobLocker = persistence.LocalJobLocker{}
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, continuing without it")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { _ = redisClient.Close() })
			labelCache = cache.NewRedisCache(redisClient, "triage:")
			deps.JobLocker = persistence.NewRedisJobLocker(redisClient)
		}
	}

	// Providers
	deps.GmailProvider = provider.NewGmailAdapter()
	deps.GoogleIdentity = provider.NewGoogleIdentity(&provider.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})

	var summarizer out.Summarizer
	if cfg.LLMAPIKey != "" {
		summarizer = llm.NewSummarizer(llm.Config{
			APIKey:    cfg.LLMAPIKey,
			BaseURL:   cfg.LLMBaseURL,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
		})
	} else {
		logger.Warn("LLM_API_KEY not set, summaries are disabled")
	}

	// Services
	deps.Credentials = mail.NewCredentialResolver(accounts, deps.GoogleIdentity)
	deps.Labels = mail.NewLabelResolver(deps.GmailProvider, labelCache)
	deps.MailService = mail.NewService(deps.GmailProvider, deps.Credentials, deps.Labels, metadata, summaries, summarizer)
	deps.SyncService = mail.NewSyncService(accounts, metadata, deps.GmailProvider, deps.Credentials)

	deps.Tokens = auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpiration,
		RefreshTTL:    cfg.JWTRefreshExpiration,
	})
	deps.AuthService = auth.NewService(users, accounts, deps.GoogleIdentity, deps.Tokens, deps.SyncService)

	deps.SnoozeService = snooze.NewService(deps.SnoozeRepo, deps.GmailProvider, deps.Credentials, deps.Labels, deps.MailService)
	deps.WakeService = snooze.NewWakeService(deps.SnoozeRepo, deps.GmailProvider, deps.Credentials, domain.RetryPolicy{
		MaxAttempts: cfg.WakeMaxAttempts,
		BaseDelay:   cfg.WakeBackoffBase,
		MaxDelay:    cfg.WakeBackoffMax,
	})

	return deps, cleanup, nil
}

// Pingers returns the readiness checks for the configured stores.
func (d *Dependencies) Pingers() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"mongodb":  func(ctx context.Context) error { return d.MongoDB.Ping(ctx, readpref.Primary()) },
		"postgres": nil,
		"redis":    nil,
	}
	if d.SQLDB != nil {
		checks["postgres"] = d.SQLDB.PingContext
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	return checks
}
