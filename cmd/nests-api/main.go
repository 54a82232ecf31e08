package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nests/internal/core/ports"
	"nests/internal/core/services"
	httphandlers "nests/internal/handlers/http"
	"nests/internal/infrastructure/livekit"
	"nests/internal/infrastructure/middleware"
	"nests/internal/infrastructure/monitoring"
	"nests/internal/infrastructure/relay"
	"nests/internal/infrastructure/reliability"
	repositories "nests/internal/infrastructure/repositories"
	"nests/pkg/circuitbreaker"
	"nests/pkg/config"
	"nests/pkg/distributed"
	"nests/pkg/logger"
	"nests/pkg/retry"
	"nests/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

const roomsSweepInterval = time.Minute

func main() {
	startTime := time.Now()

	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not configured yet.
		zapLogger := logger.New("info")
		zapLogger.Sugar().Fatalw("failed to load config", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "nests-api",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	directory := repoFactory.CreateRoomDirectory()
	metrics := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.FailureThreshold = cfg.LiveKit.BreakerFailureThreshold
	cbConfig.Timeout = cfg.LiveKit.BreakerOpenTimeout
	rooms := reliability.NewRoomServiceWrapper(
		livekit.NewRoomService(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		retry.DefaultConfig(),
		cbConfig,
		metrics,
		log,
	)

	// Role events come either from our own store, fed by the events
	// endpoint, or straight from the room's relays.
	var (
		eventSource ports.EventSource
		eventStore  ports.EventStore
	)
	switch cfg.Events.Source {
	case "relays":
		policy := relay.DialPolicy{
			AllowInsecure: cfg.Events.AllowInsecureRelays,
			AllowPrivate:  cfg.Events.AllowPrivateRelays,
		}
		eventSource = relay.NewSource(directory, cfg.Events.Relays, policy, cfg.Events.QueryTimeout, cfg.Events.MaxAge, log)
	default:
		eventStore = repoFactory.CreateEventStore()
		eventSource = eventStore
	}

	sessionCfg := services.SessionConfig{
		LiveKitURL:       cfg.LiveKit.URL,
		HLSBaseURL:       cfg.Public.HLSBaseURL,
		MaxParticipants:  cfg.LiveKit.MaxParticipants,
		EmptyTimeout:     cfg.LiveKit.EmptyTimeout,
		DepartureTimeout: cfg.LiveKit.DepartureTimeout,
		DirectoryTTL:     cfg.Directory.TTL,
		RequestTimeout:   cfg.LiveKit.RequestTimeout,
		Restart:          retry.RestartPolicy(cfg.Restart.GraceDelay, cfg.Restart.MaxAttempts),
	}

	authenticator := services.NewRequestAuthenticator(cfg.Auth.Window, metrics)
	issuer := services.NewTokenIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.EmptyTimeout)
	resolver := services.NewRoleResolver(eventSource, cfg.Events.MaxAge, log)
	coordinator := services.NewSessionCoordinator(directory, rooms, issuer, metrics, sessionCfg, log)
	if client := repoFactory.RedisClient(); client != nil {
		coordinator.UseLocks(distributed.NewRedisLocker(client, "nests:lock:", cfg.Restart.LockTTL))
	} else {
		coordinator.UseLocks(distributed.NewLocalLocker())
	}
	if eventStore != nil {
		coordinator.UseEventStore(eventStore)
	}
	joins := services.NewJoinService(authenticator, directory, rooms, resolver, issuer, metrics, cfg.LiveKit.RequestTimeout, log)
	roles := services.NewRoleService(eventStore, directory, resolver, issuer, metrics, log)

	healthChecker := monitoring.NewHealthChecker()
	if client := repoFactory.RedisClient(); client != nil {
		healthChecker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	healthChecker.AddDirectoryCheck(directory, 30*time.Second, 2*time.Second)
	healthChecker.AddRoomServiceCheck(rooms, 30*time.Second, cfg.LiveKit.RequestTimeout)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewRoomHandler(coordinator, joins, authenticator).SetupRoutes(router)
	httphandlers.NewEventHandler(roles).SetupRoutes(router)
	httphandlers.NewWebhookHandler(coordinator, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, log).SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := healthChecker.GetReadinessStatus(ctx)
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go sweepRooms(ctx, directory, metrics)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting nests api",
			"address", cfg.Server.Address,
			"events_source", cfg.Events.Source,
			"redis", repoFactory.UsingRedis(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("nests api stopped")
}

// sweepRooms keeps the active rooms gauge current.
func sweepRooms(ctx context.Context, directory ports.RoomDirectory, metrics *monitoring.PrometheusCollector) {
	ticker := time.NewTicker(roomsSweepInterval)
	defer ticker.Stop()

	for {
		if rooms, err := directory.List(ctx); err == nil {
			metrics.SetRoomsActive(len(rooms))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
