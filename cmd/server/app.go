package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/tradepilot/internal/ai/llm"
	"github.com/irfndi/tradepilot/internal/api"
	"github.com/irfndi/tradepilot/internal/api/handlers"
	"github.com/irfndi/tradepilot/internal/cache"
	"github.com/irfndi/tradepilot/internal/config"
	"github.com/irfndi/tradepilot/internal/credentials"
	"github.com/irfndi/tradepilot/internal/crypto"
	"github.com/irfndi/tradepilot/internal/database"
	"github.com/irfndi/tradepilot/internal/exchange"
	"github.com/irfndi/tradepilot/internal/logging"
	"github.com/irfndi/tradepilot/internal/middleware"
	"github.com/irfndi/tradepilot/internal/prompt"
	"github.com/irfndi/tradepilot/internal/services/ai"
	"github.com/irfndi/tradepilot/internal/services/ai/tools"
	"github.com/irfndi/tradepilot/internal/services/distributedlock"
	"github.com/irfndi/tradepilot/internal/services/execution"
	"github.com/irfndi/tradepilot/internal/services/opportunity"
	"github.com/irfndi/tradepilot/internal/services/pubsub"
	"github.com/irfndi/tradepilot/internal/services/trading"
	"github.com/irfndi/tradepilot/internal/services/workerpool"
	"github.com/irfndi/tradepilot/internal/storage"
	"github.com/irfndi/tradepilot/internal/strategy"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// app holds every long-lived component. Both the server and the CLI
// commands build one.
type app struct {
	cfg    *config.Config
	log    *logging.StandardLogger
	logger *zap.Logger

	db    database.Database
	redis *database.RedisClient

	repo          *storage.Repository
	credentials   *credentials.EncryptedStore
	resolver      credentials.Resolver
	market        *exchange.Client
	hub           *tools.Hub
	orchestrator  *ai.Orchestrator
	locker        distributedlock.Locker
	ledger        *execution.Ledger
	execRouter    *execution.Router
	users         *trading.UserConfigService
	engine        *trading.Engine
	opportunities *opportunity.Service
	pool          *workerpool.Pool
	scanner       *opportunity.Scanner
	events        *pubsub.Broker
}

func newApp(ctx context.Context, cfg *config.Config, log *logging.StandardLogger) (*app, error) {
	a := &app{cfg: cfg, log: log, logger: log.Logger()}

	db, err := database.NewDatabaseConnection(ctx, &cfg.Database, log.WithComponent("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(ctx, cfg.Redis, log.WithComponent("redis"))
		if err != nil {
			a.logger.Warn("Failed to connect to Redis - continuing with in-process cache and locks", zap.Error(err))
		} else {
			a.redis = rc
		}
	}

	store := storage.NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.repo = storage.NewRepository(store)

	static := staticCredentials(cfg)
	a.resolver = static
	if cfg.Security.EncryptionPassphrase != "" {
		sealer, err := crypto.NewSealerFromPassphrase(cfg.Security.EncryptionPassphrase, cfg.Security.EncryptionSalt)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to build credential sealer: %w", err)
		}
		a.credentials = credentials.NewEncryptedStore(store, sealer, log.WithComponent("credentials"))
		a.resolver = credentials.Chain{a.credentials, static}
	} else {
		a.logger.Warn("No encryption passphrase configured; only operator credentials are available")
	}

	exCfg := exchangeConfig(cfg.Exchange)
	exLogger := exchange.WithLogger(log.WithExchange(cfg.Exchange.Name))
	a.market = exchange.New(exCfg, exchange.Credentials{}, exLogger)

	a.hub = tools.NewHub(tools.HubConfig{
		MaxParallel: cfg.Tools.MaxParallel,
		Timeout:     cfg.Tools.Timeout,
	}, a.cacheFactory(), log.WithComponent("tool_hub"))
	tools.RegisterBuiltins(a.hub, cfg.Tools, a.market, a.resolver, &http.Client{Timeout: cfg.Tools.Timeout})

	client, err := llm.NewClient(cfg.AI.Provider, llm.ClientConfig{
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		HTTPTimeout: cfg.AI.Timeout,
		MaxTokens:   cfg.AI.MaxTokens,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.AI.APIKey == "" {
		a.logger.Warn("No model API key configured; analyses will fail until one is set",
			zap.String("provider", cfg.AI.Provider))
	}
	a.orchestrator = ai.NewOrchestrator(ai.Config{
		Provider:              cfg.AI.Provider,
		Model:                 cfg.AI.Model,
		MaxTokens:             cfg.AI.MaxTokens,
		Timeout:               cfg.AI.Timeout,
		DefaultPaperThreshold: cfg.AI.DefaultPaperThreshold,
		DefaultRealThreshold:  cfg.AI.DefaultRealThreshold,
	}, client, a.hub, prompt.NewBuilder(), log.WithComponent("orchestrator"))

	lockOpts := distributedlock.DefaultOptions()
	if cfg.Trading.LockTTL > 0 {
		lockOpts.TTL = cfg.Trading.LockTTL
	}
	if cfg.Trading.LockWaitTimeout > 0 {
		lockOpts.WaitTimeout = cfg.Trading.LockWaitTimeout
	}
	if rc := a.redisClient(); rc != nil {
		a.locker = distributedlock.NewRedisLocker(rc, lockOpts, log.WithComponent("lock"))
	} else {
		a.locker = distributedlock.NewLocalLocker(lockOpts)
	}

	a.ledger = execution.NewLedger(initialBalances(cfg.Paper.InitialBalances))
	paper := execution.NewPaperExecutor(a.ledger, a.market, cfg.Paper.SlippagePct, log.WithComponent("paper_executor"))
	live := execution.NewRealExecutor(func(creds exchange.Credentials) *exchange.Client {
		return exchange.New(exCfg, creds, exLogger)
	}, a.market, log.WithComponent("real_executor"))
	a.execRouter = execution.NewRouter(paper, live)

	a.users = trading.NewUserConfigService(a.repo, a.resolver, a.locker,
		trading.DefaultsFromConfig(cfg.Trading, cfg.Exchange.Name), log.WithComponent("user_config"))
	a.engine = trading.NewEngine(a.repo, a.users, a.locker, a.execRouter, a.market, a.resolver,
		log.WithComponent("trading_engine"))

	a.opportunities = opportunity.NewService(a.repo, a.orchestrator, a.engine, a.users, a.locker, opportunity.Config{
		TTL:              cfg.Trading.OpportunityTTL,
		DefaultProfileID: cfg.AI.DefaultProfileID,
	}, log.WithComponent("opportunity"))
	if rc := a.redisClient(); rc != nil {
		a.opportunities.SetEventPublisher(pubsub.NewPublisher(rc, log.WithComponent("events")))
		a.events = pubsub.NewBroker(rc, log.WithComponent("events"))
	}

	detector := strategy.NewDetector(strategy.NewRegistry(strategy.RSIMeanReversion{}), a.market,
		a.opportunities, cfg.Exchange.Name, log.WithComponent("detector"))
	a.pool = workerpool.New(workerpool.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.Workers * 16,
	}, log.WithComponent("worker_pool"))
	a.scanner = opportunity.NewScanner(a.opportunities, a.repo, detector, a.pool, log.WithComponent("scanner"))

	return a, nil
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client
}

// cacheFactory honours tools.cache_backend; "redis" without a live
// connection falls back to memory.
func (a *app) cacheFactory() cache.Factory {
	if strings.EqualFold(a.cfg.Tools.CacheBackend, "redis") {
		if rc := a.redisClient(); rc != nil {
			return cache.NewFactory(rc, a.log.WithComponent("tool_cache"))
		}
		a.logger.Warn("Redis tool cache requested but Redis is unavailable; using memory")
	}
	return cache.NewFactory(nil, nil)
}

// router assembles the HTTP surface.
func (a *app) router(version string) (http.Handler, error) {
	auth, err := middleware.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	var streamer handlers.EventStreamer
	if a.events != nil {
		streamer = a.events
	}

	checks := map[string]handlers.HealthChecker{"database": a.db}
	if a.redis != nil {
		checks["redis"] = a.redis
	}

	return api.NewRouter(api.Handlers{
		Health:        handlers.NewHealthHandler(version, checks, "database"),
		Opportunities: handlers.NewOpportunityHandler(a.opportunities),
		Trading:       handlers.NewTradingHandler(a.engine, a.ledger, a.execRouter, a.repo),
		Config:        handlers.NewConfigHandler(a.users),
		Strategies:    handlers.NewStrategyHandler(a.repo, a.hub),
		Events:        handlers.NewEventHandler(streamer),
	}, api.Options{
		Auth:        auth,
		RateLimiter: middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), a.redisClient(), a.log.WithComponent("rate_limit")),
		Logger:      a.log.WithComponent("http"),
	}), nil
}

func (a *app) Close() {
	if a.pool != nil && a.pool.IsRunning() {
		if err := a.pool.Stop(); err != nil {
			a.logger.Warn("Failed to stop worker pool", zap.Error(err))
		}
	}
	a.redis.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
}

func exchangeConfig(cfg config.ExchangeConfig) exchange.Config {
	return exchange.Config{
		Name:              cfg.Name,
		BaseURL:           cfg.BaseURL,
		RecvWindow:        cfg.RecvWindow,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxAttempts:       cfg.MaxAttempts,
		RetryDelay:        cfg.RetryDelay,
	}
}

// staticCredentials collects the operator-wide keys from configuration.
func staticCredentials(cfg *config.Config) credentials.Static {
	static := credentials.Static{}
	static.Set(cfg.Exchange.Name, cfg.Trading.CredentialLabel, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	for _, p := range []config.ToolProviderConfig{cfg.Tools.Sentiment, cfg.Tools.OnChain, cfg.Tools.Research} {
		static.Set(p.Service, p.Label, p.APIKey, "")
	}
	return static
}

func initialBalances(in map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for asset, amount := range in {
		if amount <= 0 {
			continue
		}
		out[strings.ToUpper(asset)] = decimal.NewFromFloat(amount)
	}
	return out
}

// shutdownTimeout bounds graceful shutdown.
func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
