package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/velia-net/rendezvous/internal/auth"
	"github.com/velia-net/rendezvous/internal/broker"
	"github.com/velia-net/rendezvous/internal/config"
	"github.com/velia-net/rendezvous/internal/httpserver"
	"github.com/velia-net/rendezvous/internal/metrics"
	"github.com/velia-net/rendezvous/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars apply either way)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)

	logger.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Bool("trust_proxy_headers", cfg.Server.TrustProxyHeaders).
		Bool("exclude_same_origin", cfg.Match.ExcludeSameOrigin).
		Dur("token_ttl", cfg.Auth.TokenTTL).
		Dur("probe_interval", cfg.Liveness.ProbeInterval).
		Int("users", len(cfg.Auth.Users)).
		Msg("starting rendezvousd")

	if len(cfg.Auth.Users) == 0 {
		logger.Warn().Msg("no users configured; every login will fail")
	}

	m := metrics.New()
	b := broker.New(broker.Config{
		ExcludeSameOrigin: cfg.Match.ExcludeSameOrigin,
	}, logger.With().Str("component", "broker").Logger(), m)

	sig := signaling.NewServer(signaling.Config{
		Broker:               b,
		Verifier:             auth.NewVerifier(cfg.Auth.JWTSecret),
		Metrics:              m,
		Log:                  logger.With().Str("component", "signaling").Logger(),
		AuthTimeout:          cfg.Auth.HandshakeTimeout,
		TrustProxyHeaders:    cfg.Server.TrustProxyHeaders,
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		MaxMessageBytes:      cfg.Limits.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.Limits.MaxMessagesPerSecond,
	})

	srv := httpserver.New(httpserver.Config{
		ListenAddr: cfg.Server.ListenAddr,
		Log:        logger.With().Str("component", "http").Logger(),
		Issuer:     auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Users),
		Broker:     b,
		Metrics:    m,
		Signaling:  sig,
		Build:      resolveBuildInfo(buildCommit, buildTime),
	})

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		logger.Error().Err(err).Msg("failed to listen")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go b.RunMonitor(ctx, cfg.Liveness.ProbeInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server exited")
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
		// Long-lived WebSocket connections keep Shutdown from draining; cut them.
		_ = srv.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server exited after shutdown")
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
