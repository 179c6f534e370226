package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/db"
	"github.com/udisondev/seabattle/internal/metrics"
	"github.com/udisondev/seabattle/internal/server"
	"github.com/udisondev/seabattle/internal/wsgate"
)

const ConfigPath = "config/seabattle.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("SEABATTLE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	slog.Info("seabattle session server starting",
		"bind", cfg.BindAddress, "port", cfg.Port, "framing", cfg.Framing)

	var opts []server.ServerOption

	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		opts = append(opts, server.WithHistory(db.NewPostgresMatchRepository(database)))
	}

	var gate *wsgate.Gate
	if cfg.SpectateWSAddress != "" {
		gate = wsgate.NewGate()
		opts = append(opts, server.WithSpectatorSink(gate))
	}

	srv := server.NewServer(cfg, opts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("session server: %w", err)
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.MetricsAddress); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if gate != nil {
		g.Go(func() error {
			if err := gate.Serve(gctx, cfg.SpectateWSAddress); err != nil {
				return fmt.Errorf("spectator gateway: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func logLevel(s string) slog.Level {
	switch s {
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
