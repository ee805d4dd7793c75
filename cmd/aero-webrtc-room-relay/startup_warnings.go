package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.ChatDatabaseURL == "" {
		logger.Warn("startup warning: CHAT_DATABASE_URL is unset while --mode=prod (chat history is kept in memory and lost on restart)",
			"warning_code", "chat_persistence_memory_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.ChatDatabaseURL != "" && !databaseURLUsesTLS(cfg.ChatDatabaseURL) && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: CHAT_DATABASE_URL does not require TLS while --mode=prod",
			"warning_code", "chat_database_without_tls",
			"chat_database_host", safeURLHost(cfg.ChatDatabaseURL),
			"mode", cfg.Mode,
		)
	}

	// Large caps weaken the per-connection DoS hardening of the signaling socket.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.MaxSignalingMessagesPerSecond > 1000 {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGES_PER_SECOND is very large (weakens signaling flood protection)",
			"warning_code", "max_signaling_messages_per_second_large",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

func databaseURLUsesTLS(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch u.Query().Get("sslmode") {
	case "require", "verify-ca", "verify-full":
		return true
	}
	return false
}
