package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/molock/molock/internal/config"
	"github.com/molock/molock/internal/logging"
	"github.com/molock/molock/internal/rules"
	"github.com/molock/molock/internal/rules/state"
	"github.com/molock/molock/internal/server"
	"github.com/molock/molock/internal/telemetry"
)

func main() {
	var (
		configFile = flag.String("config", "config/molock-config.yaml", "path to server configuration file")
		hotReload  = flag.Bool("hot-reload", false, "watch the config file and reload the catalog on change")
		envPrefix  = flag.String("env-prefix", "MOLOCK", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Error("telemetry setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(drainCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	store := buildStateStore(logger, cfg.State)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("state store shutdown failed", slog.Any("error", err))
		}
	}()

	engine := rules.NewEngine(cfg.Endpoints, store, logger)
	docs := server.NewOpenAPIDoc(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Endpoints)

	if *hotReload {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			engine.Reload(next.Endpoints)
			docs.Update(next.Telemetry.ServiceName, next.Telemetry.ServiceVersion, next.Endpoints)
			logger.Info("configuration reloaded", slog.String("path", loader.Path()))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	dispatcher := server.NewDispatcher(cfg.Server, engine, tel, logger)
	handler := telemetry.Middleware(tel)(server.NewRouter(dispatcher, docs, cfg.Server.Workers))

	srv, err := server.New(cfg.Server, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("molock server is running",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("endpoints", len(cfg.Endpoints)),
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildStateStore(logger *slog.Logger, cfg config.StateConfig) state.Store {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		logger.Info("using memory state store", slog.Duration("ttl", ttl))
		return state.NewMemory(ttl)
	case "valkey":
		store, err := state.NewValkey(state.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: state.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
			TTL: ttl,
		})
		if err != nil {
			logger.Error("valkey state store initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory state store")
			return state.NewMemory(ttl)
		}
		logger.Info("using valkey state store", slog.String("address", cfg.Valkey.Address))
		return store
	default:
		logger.Warn("unsupported state backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return state.NewMemory(ttl)
	}
}
