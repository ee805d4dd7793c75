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
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/chatlog"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

const chatStoreConnectTimeout = 10 * time.Second

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

	logger.Info("starting aero-webrtc-room-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"ice_servers", len(cfg.ICEServers),
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"chat_persistence", chatBackendName(cfg),
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will fail until fixed", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	store, err := openChatStore(cfg)
	if err != nil {
		logger.Error("failed to open chat store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	recorder := chatlog.NewRecorder(store, chatlog.RecorderConfig{
		QueueSize:    cfg.ChatQueueSize,
		WriteTimeout: cfg.ChatWriteTimeout,
		Logger:       logger.With("component", "chatlog"),
		Metrics:      m,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.AddReadinessCheck("chat_store", store.Ping)

	relay := signaling.NewRelay(signaling.RelayConfig{
		Registry: room.NewRegistry(),
		Recorder: recorder,
		Metrics:  m,
		Logger:   logger.With("component", "relay"),
	})
	sig := signaling.NewServer(signaling.Config{
		Relay:                relay,
		Metrics:              m,
		Logger:               logger.With("component", "signaling"),
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		closeRecorder(logger, recorder, cfg.ShutdownTimeout)
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
	// Hijacked WebSocket connections are not tracked by http.Server.
	sig.Close()
	closeRecorder(logger, recorder, cfg.ShutdownTimeout)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// chatStore is a chatlog.Store the binary can probe and release.
type chatStore interface {
	chatlog.Store
	Ping(ctx context.Context) error
	Close()
}

type memoryChatStore struct {
	*chatlog.MemoryStore
}

func (memoryChatStore) Close() {}

func openChatStore(cfg config.Config) (chatStore, error) {
	if cfg.ChatDatabaseURL == "" {
		return memoryChatStore{chatlog.NewMemoryStore()}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), chatStoreConnectTimeout)
	defer cancel()
	store, err := chatlog.OpenPostgres(ctx, cfg.ChatDatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func chatBackendName(cfg config.Config) string {
	if cfg.ChatDatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

func closeRecorder(logger *slog.Logger, recorder *chatlog.Recorder, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := recorder.Close(ctx); err != nil {
		logger.Warn("chat recorder did not drain before shutdown", "err", err)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
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

	return commit, buildTime
}
