// Package main provides the arena server binary: the realtime game core
// behind a websocket endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/bus"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/chat"
	"github.com/cory-johannsen/arena/internal/game/events"
	"github.com/cory-johannsen/arena/internal/game/mode"
	"github.com/cory-johannsen/arena/internal/game/registry"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/game/tournament"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	modesDir := flag.String("modes", "", "path to game mode YAML files; overrides config")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("addr", cfg.Server.Addr()),
	)

	// Load game modes
	modeStart := time.Now()
	dir := cfg.Game.ModesDir
	if *modesDir != "" {
		dir = *modesDir
	}
	modes, err := mode.LoadDirectory(dir)
	if err != nil {
		logger.Fatal("loading game modes", zap.Error(err))
	}
	defaultMode, err := modes.Get(cfg.Game.DefaultMode)
	if err != nil {
		logger.Fatal("resolving default mode",
			zap.String("mode", cfg.Game.DefaultMode),
			zap.Error(err),
		)
	}
	logger.Info("game modes loaded",
		zap.Int("count", modes.Count()),
		zap.String("default", defaultMode.ID),
		zap.Duration("elapsed", time.Since(modeStart)),
	)

	// Connect to PostgreSQL for match persistence
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	matches := postgres.NewMatchStore(pool.DB())
	if err := matches.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensuring match schema", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	// Create the event fabric and managers
	b := bus.New(bus.DefaultMaxListeners, logger)
	reg := registry.New(cfg.Realtime, b, logger)
	sessions := session.NewManager(cfg.Realtime.PauseTimeout, b, logger)
	tournaments := tournament.NewManager(sessions, defaultMode, b, logger)
	relay := chat.NewRelay(reg, b, logger)
	recorder := postgres.NewRecorder(matches, 10*time.Second, b, logger)
	pusher := ws.NewPusher(reg, b, logger)

	// Auth gatekeeper: local token verification plus remote confirmation
	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
	authClient := auth.NewClient(cfg.Auth)
	gatekeeper := auth.NewGatekeeper(verifier, authClient, logger)

	wsHandler := ws.NewHandler(gatekeeper, reg, sessions, relay, tournaments, cfg.Realtime, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Health(r.Context(), 2*time.Second); err != nil {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("http", &server.FuncService{
		StartFn: func() error {
			logger.Info("websocket endpoint listening",
				zap.String("addr", cfg.Server.Addr()),
			)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		StopFn: func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			reg.CloseAll(events.CloseReasonShutdown)
		},
	})

	stopSweep := reg.Start()
	lifecycle.Add("heartbeat", &server.FuncService{
		StartFn: func() error {
			select {}
		},
		StopFn: func() {
			stopSweep()
		},
	})

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			recorder.Close()
			pusher.Close()
			tournaments.Close()
			sessions.Close()
			pool.Close()
		},
	})

	logger.Info("arena server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
