package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/TygroTheProgrammer/Hububble/internal/config"
	httpHandler "github.com/TygroTheProgrammer/Hububble/internal/delivery/http"
	"github.com/TygroTheProgrammer/Hububble/internal/delivery/ws"
	"github.com/TygroTheProgrammer/Hububble/internal/middleware"
	"github.com/TygroTheProgrammer/Hububble/internal/room"
	"github.com/TygroTheProgrammer/Hububble/internal/store"
)

func main() {
	// Load .env file (ignore error if not exists, e.g. in production)
	_ = godotenv.Load()

	cfg := config.LoadFromEnv()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	// Room state store: Badger on disk, or in-memory when no data dir
	// is configured.
	var st store.Store
	if cfg.DataDir != "" {
		badgerStore, err := store.NewBadgerStore(cfg.DataDir, log)
		if err != nil {
			log.Error("opening store failed", "dataDir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		st = badgerStore
	} else {
		log.Warn("DATA_DIR is empty, room state will not survive restarts")
		st = store.NewMemoryStore()
	}

	// Wire the gateway and the coordination engine
	gateway := ws.NewGateway(log)
	coordinator := room.NewCoordinator(st, gateway, log, cfg.MaxChatHistory)
	handler := httpHandler.NewHandler(gateway, coordinator, coordinator, cfg, log)

	apiLimiter := middleware.NewIPRateLimiter(cfg.RateLimitAPI, int(cfg.RateLimitAPI)*2)
	wsLimiter := middleware.NewIPRateLimiter(cfg.RateLimitWS, int(cfg.RateLimitWS)*2)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", middleware.RateLimitFunc(wsLimiter, handler.HandleWebSocket))
	mux.HandleFunc("/api/room/create", middleware.RateLimitFunc(apiLimiter, handler.HandleCreateRoom))
	mux.HandleFunc("/api/room/validate", middleware.RateLimitFunc(apiLimiter, handler.HandleValidateRoom))
	mux.HandleFunc("/healthz", handler.HandleHealth)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.SecurityHeaders(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}

	if err := st.Close(); err != nil {
		log.Error("closing store failed", "error", err)
	}

	log.Info("server exited")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
