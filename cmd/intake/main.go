package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"intake/internal/api"
	"intake/internal/config"
	"intake/internal/database"
	"intake/internal/domain"
	"intake/internal/events"
	"intake/internal/google"
	"intake/internal/logging"
	"intake/internal/metrics"
	"intake/internal/network"
	"intake/internal/notify"
	"intake/internal/queue"
	"intake/internal/remote"
	"intake/internal/repository"
	"intake/internal/service"
	"intake/internal/session"
	"intake/internal/verification"
	"intake/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
	})

	sessions := session.NewManager(&logger)
	if cfg.Session.AgentID != "" {
		if err := sessions.Start(cfg.Session.AgentID); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}

	q := queue.New(db, queue.PolicyFromConfig(cfg.Queue), bus, &logger)

	remoteStore := initRemote(ctx, cfg, &logger)
	if remoteStore != nil {
		defer remoteStore.Close()
	}

	cache, cacheCloser := initCache(cfg, &logger)
	if cacheCloser != nil {
		defer func() { _ = cacheCloser.Close() }()
	}

	monitor := network.NewMonitor(network.Options{
		SettleDelay:   cfg.Network.SettleDelay,
		ProbeInterval: cfg.Network.ProbeInterval,
	}, initProber(cfg), bus, &logger)

	serviceDeps := service.Deps{
		Queue:   q,
		Local:   db,
		Session: sessions,
		Network: monitor,
		Cache:   cache,
		Logger:  &logger,
	}
	replayerDeps := worker.Deps{
		Queue:   q,
		Blobs:   db,
		Local:   db,
		Cache:   cache,
		Session: sessions,
		Network: monitor,
		Bus:     bus,
		Logger:  &logger,
	}
	if remoteStore != nil {
		serviceDeps.Remote = remoteStore
		replayerDeps.Remote = remoteStore
	}

	if drive := initDrive(ctx, cfg, &logger); drive != nil {
		serviceDeps.Uploader = drive
		replayerDeps.Uploader = drive
	}

	if cfg.Verification.Enabled && remoteStore != nil {
		client, conn, err := verification.Dial(cfg.Verification.Address)
		if err != nil {
			logger.Warn().Err(err).Msg("verification client init failed, continuing without verification")
		} else {
			defer conn.Close()
			dispatcher := verification.NewDispatcher(client, remoteStore, db, cfg.Verification.Timeout, bus, &logger).
				WithCache(cache)
			serviceDeps.Verifier = dispatcher
			replayerDeps.Verifier = dispatcher
		}
	}

	notifiers := notify.Multi{notify.NewLogNotifier(&logger)}
	if tg := initTelegram(cfg, sessions, &logger); tg != nil {
		notifiers = append(notifiers, tg)
	}
	replayerDeps.Notifier = notifiers

	intake := service.NewIntakeService(serviceDeps)
	lists := service.NewListService(serviceDeps)
	replayer := worker.NewReplayer(replayerDeps)

	monitor.OnSettledOnline(func() {
		go replayer.ProcessQueue(ctx)
	})
	sessions.OnChange(func(_ string, active bool) {
		if active && monitor.Online() {
			go replayer.ProcessQueue(ctx)
		}
	})

	startMetrics(ctx, cfg, &logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		replayer.Run(ctx, cfg.Queue.FlushInterval)
	}()

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, &logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			backups.Start(ctx)
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		monitor.Watch(grpcServer.SetOnline)
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, api.Handlers{
			Entries:   lists,
			Drafts:    intake,
			Queue:     q,
			Sync:      replayer,
			Network:   monitor,
			Ready:     db.PingContext,
			ExportDir: cfg.Exports.Path,
		}, &logger)
	}

	startServers(grpcServer, httpServer, &logger)
	logger.Info().
		Bool("remote", remoteStore != nil).
		Bool("session", !sessions.StartedAt().IsZero()).
		Msg("intake started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	wg.Wait()
	replayer.Wait()

	logger.Info().Msg("intake stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, *baseLogger, closer, nil
}

func initRemote(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *remote.PostgresStore {
	if cfg.Remote.Host == "" {
		logger.Warn().Msg("remote store not configured, every write will be queued")
		return nil
	}

	store, err := remote.NewPostgresStore(ctx, cfg.Remote, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("remote store config invalid, every write will be queued")
		return nil
	}

	logger.Info().Str("host", cfg.Remote.Host).Msg("remote store configured")
	return store
}

func initCache(cfg *config.Config, logger *zerolog.Logger) (domain.ListCache, io.Closer) {
	memory := repository.NewMemoryListCache(cfg.Redis.CacheTTL)
	if cfg.Redis.Address == "" {
		return memory, nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting on the in-memory cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	primary := repository.NewRedisListCache(client, cfg.Redis.CacheTTL)
	return repository.NewFailoverListCache(primary, memory, logger), client
}

func initProber(cfg *config.Config) network.Prober {
	if cfg.Network.ProbeURL == "" {
		return nil
	}
	return network.NewHTTPProber(cfg.Network.ProbeURL, cfg.Network.ProbeTimeout)
}

func initDrive(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.DriveService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.FolderID == "" {
		return nil
	}

	drive, err := google.NewDriveService(ctx, cfg.Google.CredentialsFile, cfg.Google.FolderID)
	if err != nil {
		logger.Warn().Err(err).Msg("google drive init failed, documents will stay staged")
		return nil
	}
	if email, err := google.GetServiceAccountEmail(cfg.Google.CredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("google drive connected")
	}
	return drive
}

func initTelegram(cfg *config.Config, sessions *session.Manager, logger *zerolog.Logger) notify.Notifier {
	if cfg.Telegram.BotToken == "" {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, sync summaries go to the log only")
		return nil
	}

	agent := func() string {
		id, _ := sessions.Actor()
		return id
	}
	return notify.NewTelegramNotifier(bot, cfg.Telegram.ChatID, agent, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(grpcServer *api.GRPCServer, httpServer *api.HTTPServer, logger *zerolog.Logger) {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
