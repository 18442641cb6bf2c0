package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xcoinalgo/strategy-engine/internal/broker"
	"github.com/xcoinalgo/strategy-engine/internal/cache/redis"
	"github.com/xcoinalgo/strategy-engine/internal/catalog"
	"github.com/xcoinalgo/strategy-engine/internal/config"
	"github.com/xcoinalgo/strategy-engine/internal/coordinator"
	"github.com/xcoinalgo/strategy-engine/internal/credentials"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/eventbus"
	"github.com/xcoinalgo/strategy-engine/internal/notify"
	"github.com/xcoinalgo/strategy-engine/internal/reconciler"
	"github.com/xcoinalgo/strategy-engine/internal/registry"
	"github.com/xcoinalgo/strategy-engine/internal/scheduler"
	"github.com/xcoinalgo/strategy-engine/internal/server"
	"github.com/xcoinalgo/strategy-engine/internal/server/handler"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
	"github.com/xcoinalgo/strategy-engine/internal/store/postgres"
	"github.com/xcoinalgo/strategy-engine/internal/strategycode"
	"github.com/xcoinalgo/strategy-engine/internal/subscription"
)

// Dependencies bundles every domain-level dependency the application needs
// to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Registry    *registry.Registry
	Settings    *settings.Service
	Subscribers *subscription.Service
	Coordinator *coordinator.Coordinator
	Scheduler   *scheduler.Scheduler
	Reconciler  *reconciler.Reconciler
	Catalog     *catalog.Service
	Events      *eventbus.Bus
	Notifier    *notify.Notifier
	Server      *server.Server
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	subscriptionStore := postgres.NewSubscriptionStore(pool)
	executionStore := postgres.NewExecutionStore(pool)
	tradeStore := postgres.NewTradeStore(pool)
	credentialStore := postgres.NewCredentialStore(pool)
	auditStore := postgres.NewAuditStore(pool)

	// reg, registryCache, settingsCache, and recon are constructed further
	// down, but the change-interceptor closure below must capture them by
	// reference now: every strategy mutation is audit-logged AND reconciled
	// into the registry/settings cache per spec.md §4.9. Neither callback
	// runs until a store method is actually invoked at request time, well
	// after the rest of Wire has assigned these variables.
	var (
		reg           *registry.Registry
		registryCache domain.RegistryCache
		settingsCache domain.SettingsCache
		recon         *reconciler.Reconciler
	)
	strategyStore := postgres.NewChangeInterceptor(postgres.NewStrategyStore(pool), func(change domain.StrategyChange) {
		auditLogStrategyChange(ctx, auditStore, logger, change)
		reconcileCacheOnChange(ctx, reg, registryCache, settingsCache, recon, logger, change)
	})

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr(),
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	registryCache = redis.NewRegistryCache(redisClient)
	settingsCache = redis.NewSettingsCache(redisClient)
	lockManager := redis.NewLockManager(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)
	signalBus := redis.NewSignalBus(redisClient)

	// --- Broker credential encryption ---
	credentialBox, err := credentials.NewBox(cfg.Credentials.MasterKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: credentials: %w", err)
	}

	// --- On-disk strategy code + config recovery ---
	codeLoader := strategycode.NewLoader(cfg.Strategies.BaseDir)

	// --- In-process event bus ---
	events := eventbus.New(logger)

	// --- Core services ---
	reg = registry.New(registryCache, signalBus, strategyStore, codeLoader, logger)

	settingsSvc := settings.New(settingsCache, strategyStore, lockManager, signalBus, logger)

	subs := subscription.New(
		subscriptionStore,
		strategyStore,
		credentialStore,
		credentialBox,
		settingsSvc,
		reg,
		codeLoader,
		events,
		logger,
	)

	notifier := buildNotifier(cfg, logger)

	coord := coordinator.New(
		reg,
		settingsSvc,
		subs,
		executionStore,
		tradeStore,
		codeLoader,
		coordinator.NewSubprocessRuntime(),
		broker.New(),
		events,
		notifier,
		logger,
	)

	recon = reconciler.New(registryCache, strategyStore, logger)

	sched := scheduler.New(coord, reg, recon, cfg.Scheduler.WorkerID, logger)

	cat := catalog.New(strategyStore, settingsSvc, codeLoader, logger)

	// --- HTTP API server ---
	srv := server.NewServer(
		server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			APIKey:          cfg.Server.APIKey,
			RateLimit:       cfg.Server.RateLimit,
			RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
			Limiter:         rateLimiter,
		},
		server.Handlers{
			Health:       handler.NewHealthHandler(logger),
			Deploy:       handler.NewDeployHandler(cat, logger),
			Subscription: handler.NewSubscriptionHandler(subs, settingsSvc, subscriptionStore, logger),
			Stats:        handler.NewStatsHandler(executionStore, settingsSvc, logger),
		},
		logger,
	)

	deps := &Dependencies{
		Registry:    reg,
		Settings:    settingsSvc,
		Subscribers: subs,
		Coordinator: coord,
		Scheduler:   sched,
		Reconciler:  recon,
		Catalog:     cat,
		Events:      events,
		Notifier:    notifier,
		Server:      srv,
	}

	return deps, cleanup, nil
}

// auditLogStrategyChange records a strategy mutation in the durable audit
// log. Logging failures are non-fatal: the mutation itself already
// committed, so a lost audit entry is surfaced instead of rolling back.
func auditLogStrategyChange(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, change domain.StrategyChange) {
	detail := map[string]any{"kind": string(change.Kind)}
	if change.After != nil {
		detail["strategy_id"] = change.After.ID
		detail["active"] = change.After.Active
		detail["subscriber_count"] = change.After.SubscriberCount
	} else if change.Before != nil {
		detail["strategy_id"] = change.Before.ID
	}

	if err := audit.Log(ctx, "strategy."+string(change.Kind), detail); err != nil {
		logger.Warn("wire: audit log write failed", slog.Any("error", err))
	}
}

// reconcileCacheOnChange applies the §4.9 cache-sync policy for a single
// strategy mutation: register, unregister, or move candle-set membership
// to track the strategy's Schedulable() transition, and always drop the
// cached settings hash so the next read re-hydrates from the durable
// store. deleteMany/updateMany (and any other bulk shape) fall back to a
// full reconcile pass instead of reasoning about a single before/after.
func reconcileCacheOnChange(ctx context.Context, reg *registry.Registry, registryCache domain.RegistryCache, settingsCache domain.SettingsCache, recon *reconciler.Reconciler, logger *slog.Logger, change domain.StrategyChange) {
	switch change.Kind {
	case domain.ChangeCreate:
		if change.After == nil {
			return
		}
		if change.After.Schedulable() {
			if err := reg.Register(ctx, change.After.ID, change.After.Config.Symbol, change.After.Config.Resolution); err != nil {
				logger.Warn("wire: cache sync register failed", slog.String("strategy_id", change.After.ID), slog.Any("error", err))
			}
		}
		dropStrategySettings(ctx, settingsCache, logger, change.After.ID)

	case domain.ChangeUpdate:
		if change.Before == nil || change.After == nil {
			return
		}
		wasSchedulable := change.Before.Schedulable()
		isSchedulable := change.After.Schedulable()
		switch {
		case !wasSchedulable && isSchedulable:
			if err := reg.Register(ctx, change.After.ID, change.After.Config.Symbol, change.After.Config.Resolution); err != nil {
				logger.Warn("wire: cache sync register failed", slog.String("strategy_id", change.After.ID), slog.Any("error", err))
			}
		case wasSchedulable && !isSchedulable:
			if err := reg.Unregister(ctx, change.Before.ID, change.Before.Config.Symbol, change.Before.Config.Resolution); err != nil {
				logger.Warn("wire: cache sync unregister failed", slog.String("strategy_id", change.Before.ID), slog.Any("error", err))
			}
		case wasSchedulable && isSchedulable &&
			(change.Before.Config.Symbol != change.After.Config.Symbol || change.Before.Config.Resolution != change.After.Config.Resolution):
			if err := reg.UpdateRegistration(ctx, change.After.ID,
				change.Before.Config.Symbol, change.Before.Config.Resolution,
				change.After.Config.Symbol, change.After.Config.Resolution); err != nil {
				logger.Warn("wire: cache sync update registration failed", slog.String("strategy_id", change.After.ID), slog.Any("error", err))
			}
		}
		dropStrategySettings(ctx, settingsCache, logger, change.After.ID)

	case domain.ChangeDelete:
		if change.Before == nil {
			return
		}
		if change.Before.Schedulable() {
			if err := reg.Unregister(ctx, change.Before.ID, change.Before.Config.Symbol, change.Before.Config.Resolution); err != nil {
				logger.Warn("wire: cache sync unregister failed", slog.String("strategy_id", change.Before.ID), slog.Any("error", err))
			}
		}
		if err := registryCache.Delete(ctx, change.Before.ID); err != nil {
			logger.Warn("wire: cache sync drop config hash failed", slog.String("strategy_id", change.Before.ID), slog.Any("error", err))
		}
		dropStrategySettings(ctx, settingsCache, logger, change.Before.ID)

	case domain.ChangeDeleteMany, domain.ChangeUpdateMany:
		report, err := recon.Reconcile(ctx)
		if err != nil {
			logger.Warn("wire: cache sync full reconcile failed", slog.Any("error", err))
			return
		}
		logger.Info("wire: cache sync triggered full reconcile",
			slog.Int("orphaned", report.Orphaned), slog.Int("missing", report.Missing))
	}
}

// dropStrategySettings unconditionally invalidates a strategy's cached
// settings hash, per spec.md §4.9's "irrespective of the above" clause.
func dropStrategySettings(ctx context.Context, settingsCache domain.SettingsCache, logger *slog.Logger, strategyID string) {
	if err := settingsCache.DeleteStrategySettings(ctx, strategyID); err != nil {
		logger.Warn("wire: cache sync drop settings failed", slog.String("strategy_id", strategyID), slog.Any("error", err))
	}
}

// buildNotifier wires every configured notification sender; it returns a
// Notifier with no senders when none are configured, which is a silent
// no-op rather than an error.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}

var _ domain.BrokerClient = broker.Unconfigured{}
