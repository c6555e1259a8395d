// screenlink-signaling is the signaling relay: it pairs two participants per
// room over WebSocket and forwards their session negotiation verbatim.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/screenlink/signaling/internal/config"
	"github.com/screenlink/signaling/internal/httpserver"
	"github.com/screenlink/signaling/internal/metrics"
	"github.com/screenlink/signaling/internal/room"
	"github.com/screenlink/signaling/internal/server"
	"github.com/screenlink/signaling/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting screenlink-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_rooms", cfg.MaxRooms,
		"max_users_per_room", cfg.MaxUsersPerRoom,
		"room_timeout", cfg.RoomTimeout,
		"sweep_interval", cfg.SweepInterval,
		"idle_timeout", cfg.IdleTimeout,
		"max_memory_mb", cfg.MaxMemoryMB,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	m := metrics.New()
	registry := room.NewRegistry(room.Config{
		MaxRooms:        cfg.MaxRooms,
		MaxUsersPerRoom: cfg.MaxUsersPerRoom,
		RoomTimeout:     cfg.RoomTimeout,
	}, logger, m)
	sig := server.New(cfg, logger, registry, m)

	var turnGen *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnGen, err = turnrest.NewGenerator(turnrest.GeneratorConfig{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTLSeconds:     cfg.TURNREST.TTLSeconds,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure TURN REST credentials", "err", err)
			os.Exit(2)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(), httpserver.Deps{
		Status:    sig,
		Signaling: sig,
		Metrics:   metrics.PrometheusHandler(m),
		TURN:      turnGen,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sig.RunSweeper(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo() httpserver.BuildInfo {
	commit, built := buildCommit, buildTime
	// Prefer ldflags-injected values but fall back to Go build info, which is
	// what `go run` and dev builds carry.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: built}
}
