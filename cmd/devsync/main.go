package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devsync-io/devsync/internal/api"
	"github.com/devsync-io/devsync/internal/auth"
	"github.com/devsync-io/devsync/internal/config"
	"github.com/devsync-io/devsync/internal/health"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/project"
	"github.com/devsync-io/devsync/internal/room"
	"github.com/devsync-io/devsync/internal/sandbox"
	"github.com/devsync-io/devsync/internal/store"
	"github.com/devsync-io/devsync/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("socket_addr", cfg.SocketListenAddr).
		Msg("starting workspace engine")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Durable project/user storage
	dataStore, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer dataStore.Close()

	// Revocation store
	var revocations tokenstore.Store
	if cfg.MemoryRevocationStore() {
		logger.Warn().Msg("using in-memory revocation store; revocations will not survive a restart")
		revocations = tokenstore.NewMemoryStore()
	} else {
		sqliteRevocations, revErr := tokenstore.NewSQLiteStore(cfg.RevocationStoreDSN)
		if revErr != nil {
			logger.Fatal().Err(revErr).Msg("failed to open revocation store")
		}
		defer sqliteRevocations.Close()
		revocations = sqliteRevocations
	}

	// Janitor for expired revocation entries
	go func() {
		ticker := time.NewTicker(cfg.RevocationSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := revocations.Cleanup(ctx); err != nil {
					logger.Error().Err(err).Msg("revocation cleanup failed")
				} else if n > 0 {
					logger.Debug().Int("removed", n).Msg("revocation entries expired")
				}
			}
		}
	}()

	// Session gate
	gate := auth.NewGate(auth.Config{
		Secret:       cfg.JWTSecret,
		TokenTTL:     cfg.TokenTTL,
		MinRevokeTTL: cfg.RevocationMinTTL,
		MaxRevokeTTL: cfg.RevocationMaxTTL,
	}, revocations, logger)

	// Metrics and health
	m := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := dataStore.Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("revocations", func(ctx context.Context) health.Status {
		if _, err := revocations.Cleanup(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// File tree service and room hub
	projects := project.NewService(dataStore, m, logger)
	hub := room.NewHub(m, logger)
	go hub.Run(ctx)

	// Assistant integration is optional; the engine runs without one and
	// simply does not answer agent mentions.
	var agent room.Agent

	roomServer := room.NewServer(gate, dataStore, projects, hub, agent, m, sandbox.Config{
		Root:         cfg.SandboxRoot,
		InstallCmd:   cfg.SandboxInstallCmd,
		StartCmd:     cfg.SandboxStartCmd,
		ReadyTimeout: cfg.SandboxReadyTimeout,
	}, logger)

	// Socket server: rooms, probes, metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", roomServer.HandleWS)
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	socketServer := &http.Server{
		Addr:        cfg.SocketListenAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: websocket connections are long-lived.
	}

	// REST API server
	handlers := api.NewHandlers(dataStore, gate, projects, logger)
	apiServer := api.NewServer(api.ServerConfig{
		ListenAddr:  addrFromPort(cfg.HTTPPort),
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
	}, handlers, gate, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", socketServer.Addr).Msg("socket server starting")
		if err := socketServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("socket server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context: stops the hub (disconnecting all rooms, which tears
	// down every client's sandbox) and the janitor.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := socketServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("socket server shutdown error")
	}
	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("workspace engine stopped")
}

func addrFromPort(port int) string {
	return ":" + strconv.Itoa(port)
}
