package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/webrtc/v4"
)

const (
	envVarPeerServerURL = "AERO_ROOM_SERVER_URL"
	envVarPeerName      = "AERO_ROOM_NAME"

	DefaultPeerServerURL     = "ws://127.0.0.1:8000/ws"
	DefaultPeerAnswerTimeout = 30 * time.Second
)

// PeerFile is the [peer] section of the room peer's TOML config file.
type PeerFile struct {
	ServerURL            string   `toml:"server_url"`
	Room                 string   `toml:"room"`
	Name                 string   `toml:"name"`
	STUNURLs             []string `toml:"stun_urls"`
	AnswerTimeoutSeconds int      `toml:"answer_timeout_seconds"`
	Audio                *bool    `toml:"audio"`
	Video                *bool    `toml:"video"`
	LogLevel             string   `toml:"log_level"`
}

type peerTOML struct {
	Peer PeerFile `toml:"peer"`
}

// PeerOptions carries command line overrides. Zero values mean "not set".
type PeerOptions struct {
	ConfigPath    string
	ServerURL     string
	Room          string
	Name          string
	STUNURLs      string
	AnswerTimeout time.Duration
	NoAudio       bool
	NoVideo       bool
	LogLevel      string
}

// Peer is the resolved configuration of a headless room peer.
type Peer struct {
	ServerURL     string
	Room          string
	Name          string
	ICEServers    []webrtc.ICEServer
	AnswerTimeout time.Duration
	Audio         bool
	Video         bool
	LogLevel      slog.Level
}

func LoadPeerFile(path string) (PeerFile, error) {
	if path == "" {
		return PeerFile{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return PeerFile{}, fmt.Errorf("read peer config: %w", err)
	}
	var f peerTOML
	if err := toml.Unmarshal(content, &f); err != nil {
		return PeerFile{}, fmt.Errorf("parse peer config: %w", err)
	}
	return f.Peer, nil
}

// LoadPeer resolves peer settings with the priority flags > config file >
// environment > defaults.
func LoadPeer(opts PeerOptions) (Peer, error) {
	return loadPeer(os.LookupEnv, opts)
}

func loadPeer(lookup func(string) (string, bool), opts PeerOptions) (Peer, error) {
	file, err := LoadPeerFile(opts.ConfigPath)
	if err != nil {
		return Peer{}, err
	}

	p := Peer{
		ServerURL:     firstNonEmpty(opts.ServerURL, file.ServerURL, envOrDefault(lookup, envVarPeerServerURL, ""), DefaultPeerServerURL),
		Room:          firstNonEmpty(opts.Room, file.Room),
		Name:          firstNonEmpty(opts.Name, file.Name, envOrDefault(lookup, envVarPeerName, "")),
		AnswerTimeout: DefaultPeerAnswerTimeout,
		Audio:         true,
		Video:         true,
	}

	if p.Room == "" {
		return Peer{}, errors.New("room is required")
	}
	if p.Name == "" {
		p.Name = "peer"
	}
	u, err := url.Parse(p.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return Peer{}, fmt.Errorf("invalid server url %q (expected ws:// or wss://)", p.ServerURL)
	}

	switch {
	case opts.AnswerTimeout > 0:
		p.AnswerTimeout = opts.AnswerTimeout
	case file.AnswerTimeoutSeconds > 0:
		p.AnswerTimeout = time.Duration(file.AnswerTimeoutSeconds) * time.Second
	case file.AnswerTimeoutSeconds < 0:
		return Peer{}, fmt.Errorf("answer_timeout_seconds must be > 0")
	}

	if file.Audio != nil {
		p.Audio = *file.Audio
	}
	if file.Video != nil {
		p.Video = *file.Video
	}
	if opts.NoAudio {
		p.Audio = false
	}
	if opts.NoVideo {
		p.Video = false
	}

	stun := opts.STUNURLs
	if stun == "" && len(file.STUNURLs) > 0 {
		stun = strings.Join(file.STUNURLs, ",")
	}
	if stun == "" {
		stun = envOrDefault(lookup, envStunURLs, DefaultSTUNURL)
	}
	p.ICEServers, err = ParseSTUNURLs(stun)
	if err != nil {
		return Peer{}, fmt.Errorf("stun urls: %w", err)
	}

	p.LogLevel, err = parseLogLevel(firstNonEmpty(opts.LogLevel, file.LogLevel, "info"))
	if err != nil {
		return Peer{}, err
	}
	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
