package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"deposit-ledger/config"
	"deposit-ledger/internal/adapter/chain/solanarpc"
	httpHandler "deposit-ledger/internal/adapter/http/handler"
	"deposit-ledger/internal/adapter/http/middleware"
	"deposit-ledger/internal/adapter/notify"
	"deposit-ledger/internal/adapter/storage/memory"
	pgStorage "deposit-ledger/internal/adapter/storage/postgres"
	redisStorage "deposit-ledger/internal/adapter/storage/redis"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"
	"deposit-ledger/internal/service"
	"deposit-ledger/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// repositories is the storage backend selected by storage.driver.
type repositories struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	keystore   ports.KeystoreRepository
	settings   ports.SettingsRepository
	transactor ports.DBTransactor
	health     []ports.HealthChecker
	close      func()
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: ./config.yaml or ./config/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Deposit Ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Background workers outlive the signal; they are stopped explicitly below.
	runCtx := context.Background()

	repos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()

	// Redis is optional: without it dedupe relies on the ledger alone,
	// provisioning locks are process-local and rate limits are per process.
	var (
		rdb        *goredis.Client
		sigCache   ports.ProcessedSignatureCache
		locks      ports.LockStore
		rateLimits middleware.RateLimitBackend = middleware.NewLocalRateLimiter()
	)
	if cfg.Redis.Enabled {
		rdb, err = redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		sigCache = redisStorage.NewSignatureCache(rdb)
		locks = redisStorage.NewLockStore(rdb)
		rateLimits = redisStorage.NewRateLimitStore(rdb)
		repos.health = append(repos.health, redisStorage.NewHealthCheck(rdb))
	}

	m := metrics.New()
	chain := solanarpc.NewClient(cfg.Solana, logger.Component(log, "solana"))
	repos.health = append(repos.health, chain)

	encSvc, err := newEncryptionService(cfg.AES)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Notifications
	var sink ports.Notifier = notify.NewLogNotifier(logger.Component(log, "notify"))
	if cfg.Notifier.TelegramBotToken != "" {
		sink = notify.NewTelegramNotifier(
			cfg.Notifier.TelegramAPIBase,
			cfg.Notifier.TelegramBotToken,
			&http.Client{Timeout: cfg.Notifier.Timeout},
			logger.Component(log, "notify"),
		)
	}
	dispatcher := service.NewNotificationDispatcher(sink, service.DispatcherConfig{
		QueueSize:       cfg.Monitor.NotifyQueueSize,
		Workers:         cfg.Monitor.NotifyWorkers,
		AttemptTimeout:  cfg.Notifier.Timeout,
		MaxRetryElapsed: cfg.Notifier.MaxRetryElapsed,
	}, m, logger.Component(log, "dispatcher"))
	dispatcher.Start(runCtx)

	// Core services
	settingsSvc := service.NewSettingsService(repos.settings, log)
	ledgerSvc := service.NewLedgerService(repos.accounts, repos.ledger, settingsSvc, dispatcher, repos.transactor, logger.Component(log, "ledger"))
	reportingSvc := service.NewReportingService(repos.accounts, repos.ledger)

	registry := service.NewAddressRegistry(
		repos.accounts, repos.keystore, solanarpc.NewKeyGenerator(), encSvc,
		locks, cfg.Provisioning.LockTTL, logger.Component(log, "registry"),
	)
	if n, err := registry.Warm(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load keystore")
	} else {
		log.Info().Int("keypairs", n).Msg("Keystore loaded")
	}

	observer := service.NewChainObserver(chain, cfg.Solana.RPCTimeout, m, logger.Component(log, "observer"))
	attributor := service.NewDepositAttributor(
		repos.ledger, ledgerSvc, observer, sigCache, cfg.Cache.ProcessedSignatureTTL, m, logger.Component(log, "attributor"),
	)
	monitor := service.NewMonitorScheduler(
		repos.accounts, observer, attributor, dispatcher, service.NewWatermarkStore(),
		service.MonitorConfig{
			PollInterval:    cfg.Monitor.PollInterval,
			AccountDelay:    cfg.Monitor.AccountDelay,
			SignatureLimit:  cfg.Monitor.SignatureLimit,
			MaxHistoryPages: cfg.Monitor.MaxHistoryPages,
			PageSize:        cfg.Monitor.PageSize,
		},
		m, logger.Component(log, "monitor"),
	)

	reconciler, err := service.NewBalanceReconciler(cfg.Sweep.ReconcilePolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reconcile policy")
	}
	sweeper := service.NewSweepAgent(
		repos.accounts, repos.ledger, registry, chain, chain, reconciler, repos.transactor,
		service.SweepConfig{
			TreasuryAddress: cfg.Sweep.TreasuryAddress,
			AccountDelay:    cfg.Sweep.AccountDelay,
			PageSize:        cfg.Monitor.PageSize,
		},
		m, logger.Component(log, "sweep"),
	)

	var schedule *service.SweepSchedule
	if cfg.Sweep.Schedule != "" {
		schedule, err = service.NewSweepSchedule(cfg.Sweep.Schedule, sweeper, cfg.Sweep.MinRetainLamports, logger.Component(log, "sweep"))
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid sweep schedule")
		}
		schedule.Start(runCtx)
	}

	if cfg.Monitor.Enabled {
		if err := monitor.Start(runCtx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start deposit monitor")
		}
	} else {
		log.Warn().Msg("Deposit monitor disabled")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         ledgerSvc,
		Registry:       registry,
		Reporting:      reportingSvc,
		Settings:       settingsSvc,
		Sweeps:         sweeper,
		TokenSvc:       tokenSvc,
		RateLimiter:    rateLimits,
		HealthCheckers: repos.health,
		Metrics:        m,
		MinRetain:      cfg.Sweep.MinRetainLamports,
		Mode:           cfg.Server.Mode,
		Logger:         logger.Component(log, "http"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed, shutting down")
	}

	// Stop accepting work first, then let running cycles finish and drain notifications.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.StopTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if schedule != nil {
		if err := schedule.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Sweep schedule did not stop in time")
		}
	}
	if cfg.Monitor.Enabled {
		if err := monitor.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Deposit monitor aborted")
		}
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending notifications dropped")
	}

	log.Info().Msg("Server exited")
}

func openRepositories(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Warn().Msg("Using in-memory storage; balances are lost on exit")
		store := memory.NewStore()
		return &repositories{
			accounts:   store.Accounts(),
			ledger:     store.Ledger(),
			keystore:   store.Keystore(),
			settings:   store.Settings(),
			transactor: store.Transactor(),
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	if cfg.Database.Migrate {
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Schema up to date")
	}

	return &repositories{
		accounts:   pgStorage.NewAccountRepo(pool),
		ledger:     pgStorage.NewLedgerRepo(pool),
		keystore:   pgStorage.NewKeystoreRepo(pool),
		settings:   pgStorage.NewSettingsRepo(pool),
		transactor: pgStorage.NewTransactor(pool),
		health:     []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:      pool.Close,
	}, nil
}

func newEncryptionService(cfg config.AESConfig) (ports.EncryptionService, error) {
	if cfg.Key != "" {
		return service.NewAESEncryptionService(cfg.Key)
	}
	return service.NewAESEncryptionServiceFromPassphrase(cfg.Passphrase, cfg.Salt)
}
