package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kevin07696/escrow-service/internal/adapters/delivery"
	"github.com/kevin07696/escrow-service/internal/adapters/directory"
	"github.com/kevin07696/escrow-service/internal/adapters/gateway"
	"github.com/kevin07696/escrow-service/internal/adapters/memory"
	"github.com/kevin07696/escrow-service/internal/adapters/postgres"
	"github.com/kevin07696/escrow-service/internal/adapters/sandbox"
	"github.com/kevin07696/escrow-service/internal/adapters/secrets"
	"github.com/kevin07696/escrow-service/internal/auth"
	"github.com/kevin07696/escrow-service/internal/catalog"
	"github.com/kevin07696/escrow-service/internal/config"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/handlers/api"
	"github.com/kevin07696/escrow-service/internal/handlers/cron"
	"github.com/kevin07696/escrow-service/internal/scheduler"
	"github.com/kevin07696/escrow-service/internal/services/dispute"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	"github.com/kevin07696/escrow-service/internal/services/purchase"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	httpclient "github.com/kevin07696/escrow-service/pkg/http"
	"github.com/kevin07696/escrow-service/pkg/middleware"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/kevin07696/escrow-service/pkg/security"
	"github.com/kevin07696/escrow-service/pkg/shutdown"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

const tokenTTL = time.Hour

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	logger, err := security.NewBaseLogger(cfg.Environment, cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting escrow service",
		zap.String("environment", cfg.Environment),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("gateway_mode", cfg.Gateway.Mode),
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(logger, 30*time.Second)

	secretStore, err := secrets.New(ctx, secrets.Config{
		Backend:   cfg.Secrets.Backend,
		LocalPath: cfg.Secrets.LocalPath,
		Vault: secrets.VaultConfig{
			Address:    cfg.Secrets.VaultAddress,
			AuthMethod: cfg.Secrets.VaultAuth,
			Token:      cfg.Secrets.VaultToken,
			RoleID:     cfg.Secrets.VaultRoleID,
			SecretID:   cfg.Secrets.VaultSecretID,
			Namespace:  cfg.Secrets.VaultNamespace,
			MountPath:  cfg.Secrets.VaultMount,
		},
		AWS: secrets.AWSConfig{
			Region:   cfg.Secrets.AWSRegion,
			Endpoint: cfg.Secrets.AWSEndpoint,
		},
		CacheTTL: cfg.Secrets.CacheTTL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize secret store", zap.Error(err))
	}

	jwtSecret, err := secrets.Resolve(ctx, secretStore, cfg.Auth.JWTSecretPath, cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("Failed to resolve JWT secret", zap.Error(err))
	}
	tokens, err := auth.NewTokenManager([]byte(jwtSecret), cfg.Auth.Issuer, tokenTTL)
	if err != nil {
		logger.Fatal("Failed to initialize token manager", zap.Error(err))
	}

	timeouts := resilience.DefaultTimeoutConfig()

	store, pool, err := initStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	paymentGateway, err := initGateway(ctx, cfg, secretStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize payment gateway", zap.Error(err))
	}

	sink, err := initNotificationSink(ctx, cfg, secretStore, logger)
	if err != nil {
		logger.Fatal("Failed to initialize notifications", zap.Error(err))
	}
	svcLogger := security.NewZapLogger(logger)
	dispatcher := notification.NewDispatcher(sink, notification.DispatcherConfig{
		QueueSize: cfg.Notifications.QueueSize,
		Workers:   cfg.Notifications.Workers,
	}, svcLogger.Named("notifications"))

	clock := timeutil.SystemClock{}
	numbers := sequence.NewAllocator(store.sequences)
	publisher := notification.NewPublisher(dispatcher, clock, svcLogger.Named("publisher"))

	escrowManager := escrow.NewManager(store.tx, store.purchases, store.ledger, numbers, publisher, clock, escrow.Config{
		HoldPeriod:        cfg.Escrow.HoldPeriod,
		PlatformAccountID: cfg.Platform.AccountID,
		SweepBatchSize:    cfg.Escrow.SweepBatchSize,
	}, svcLogger.Named("escrow"))

	var preparer ports.DeliveryPreparer
	if cfg.Delivery.URL != "" {
		preparer = delivery.NewHTTPPreparer(delivery.Config{
			URL:     cfg.Delivery.URL,
			Token:   cfg.Delivery.Token,
			Timeout: cfg.Delivery.Timeout,
		}, httpclient.NewHTTPClient(httpclient.DeliveryProfile(), cfg.Delivery.Timeout), logger)
	}

	purchaseSvc := purchase.NewService(store.tx, store.purchases, store.ledger, store.catalog, paymentGateway, preparer,
		escrowManager, numbers, publisher, clock, purchase.Config{
			Windows: domain.PurchaseWindows{
				Dispute: cfg.Escrow.DisputeWindow,
				Review:  cfg.Escrow.ReviewWindow,
			},
			SweepBatchSize: cfg.Escrow.SweepBatchSize,
		}, svcLogger.Named("purchases"))

	disputeSvc := dispute.NewService(store.tx, store.purchases, store.disputes, purchaseSvc, escrowManager, numbers,
		directory.NewStatic(cfg.Platform.AdminIDs), publisher, clock, dispute.Config{
			Windows: domain.DisputeWindows{
				Response:   cfg.Disputes.ResponseWindow,
				Resolution: cfg.Disputes.ResolutionWindow,
				Expiry:     cfg.Disputes.Expiry,
			},
			StrictResolutions: cfg.Disputes.StrictResolutions,
			SweepBatchSize:    cfg.Escrow.SweepBatchSize,
		}, svcLogger.Named("disputes"))

	jobs := scheduler.Jobs(escrowManager, purchaseSvc, disputeSvc)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterDeps{
		Purchases:   purchaseSvc,
		Disputes:    disputeSvc,
		Tokens:      tokens,
		Limiter:     limiter,
		Sweeps:      cron.NewSweepHandler(jobs, timeouts, logger, cfg.Server.CronSecret),
		Timeouts:    timeouts,
		Logger:      logger,
		Development: cfg.Environment == "development",
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      timeouts.Handler + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	var db observability.Pinger
	if pool != nil {
		db = pool
	}
	healthChecker := observability.NewHealthChecker(db)
	healthChecker.AddCheck("notifications", dispatcher.CheckBacklog)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)

	// Registration order is the reverse of shutdown order: storage closes last
	if pool != nil {
		shutdownMgr.RegisterNoErr("postgres", pool.Close)
	}
	shutdownMgr.Register("notifications", dispatcher.Close)
	shutdownMgr.Register("metrics-server", func(ctx context.Context) error {
		return observability.ShutdownMetricsServer(ctx, metricsServer)
	})
	if limiter != nil {
		shutdownMgr.RegisterNoErr("rate-limiter", limiter.Shutdown)
	}
	shutdownMgr.RegisterHTTPServer("http-server", httpServer)

	if cfg.Server.EnableScheduler {
		sched, err := scheduler.New(jobs, cfg.Escrow.SweepInterval, timeouts, logger)
		if err != nil {
			logger.Fatal("Failed to create scheduler", zap.Error(err))
		}
		sched.Start()
		shutdownMgr.Register("scheduler", sched.Shutdown)
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	if err := shutdownMgr.WaitForShutdown(); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
	}
}

// storage groups the repositories of one backend
type storage struct {
	tx        ports.TransactionManager
	purchases ports.PurchaseRepository
	ledger    ports.LedgerRepository
	disputes  ports.DisputeRepository
	sequences ports.SequenceRepository
	catalog   ports.ProductCatalog
}

// initStorage opens postgres, or builds the in-memory store seeded from the
// catalog file. The returned pool is nil for the memory driver.
func initStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, *pgxpool.Pool, error) {
	if cfg.Database.Driver == "memory" {
		s := memory.NewStore()
		products := memory.NewProductCatalog(s)
		if cfg.Platform.CatalogFile != "" {
			list, err := catalog.LoadFile(cfg.Platform.CatalogFile)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range list {
				products.PutProduct(p)
			}
			logger.Info("Loaded product catalog", zap.Int("products", len(list)))
		}
		logger.Warn("Using in-memory storage; state is lost on restart")
		return &storage{
			tx:        s,
			purchases: memory.NewPurchaseRepository(s),
			ledger:    memory.NewLedgerRepository(s),
			disputes:  memory.NewDisputeRepository(s),
			sequences: memory.NewSequenceRepository(s),
			catalog:   products,
		}, nil, nil
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	db := postgres.NewDBExecutor(pool)
	return &storage{
		tx:        db,
		purchases: postgres.NewPurchaseRepository(db),
		ledger:    postgres.NewLedgerRepository(db),
		disputes:  postgres.NewDisputeRepository(db),
		sequences: postgres.NewSequenceRepository(db),
		catalog:   postgres.NewProductCatalog(db),
	}, pool, nil
}

func initGateway(ctx context.Context, cfg *config.Config, store secrets.Store, logger *zap.Logger) (ports.PaymentGateway, error) {
	if cfg.Gateway.Mode == "sandbox" {
		logger.Warn("Using sandbox payment gateway")
		return sandbox.NewGateway(), nil
	}

	apiKey, err := secrets.Resolve(ctx, store, cfg.Gateway.APIKeySecretPath, cfg.Gateway.APIKey)
	if err != nil {
		return nil, err
	}
	return gateway.NewHTTPGateway(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  apiKey,
		Timeout: cfg.Gateway.Timeout,
		Breaker: gateway.DefaultBreakerConfig(),
	}, httpclient.NewHTTPClient(httpclient.GatewayProfile(), cfg.Gateway.Timeout), logger), nil
}

// initNotificationSink logs every notification and, when a webhook URL is
// configured, also posts it there
func initNotificationSink(ctx context.Context, cfg *config.Config, store secrets.Store, logger *zap.Logger) (ports.NotificationSink, error) {
	logSink := notification.NewLogSink(security.NewZapLogger(logger.Named("notify")))
	if cfg.Notifications.WebhookURL == "" {
		return logSink, nil
	}

	secret, err := secrets.Resolve(ctx, store, cfg.Notifications.SigningSecretPath, cfg.Notifications.SigningSecret)
	if err != nil {
		return nil, err
	}
	webhook := notification.NewWebhookSink(notification.WebhookConfig{
		URL:         cfg.Notifications.WebhookURL,
		Secret:      secret,
		MaxAttempts: cfg.Notifications.MaxAttempts,
	}, httpclient.NewHTTPClient(httpclient.WebhookProfile(), 10*time.Second), logger)
	return notification.MultiSink{logSink, webhook}, nil
}
