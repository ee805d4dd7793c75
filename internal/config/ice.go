package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"
	envStunURLs       = "AERO_STUN_URLS"

	// DefaultSTUNURL is used by peers when nothing else is configured.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

// ErrTURNUnsupported is returned for turn:/turns: URLs. Rooms connect over
// STUN only.
var ErrTURNUnsupported = errors.New("turn servers are not supported")

func parseICEServersFromValues(iceServersJSON, stunURLs string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}

	iceServers, err := ParseSTUNURLs(stunURLs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envStunURLs, err)
	}
	return iceServers, nil
}

type iceServerJSON struct {
	URLs stringOrStringSlice `json:"urls"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses a browser style RTCIceServer list, e.g.
// [{"urls":["stun:stun.example.com:3478"]}].
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}
		pcServer := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(pcServer); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

// ParseSTUNURLs builds a single ICE server from a comma-separated URL list.
// An empty list yields no servers.
func ParseSTUNURLs(stunURLs string) ([]webrtc.ICEServer, error) {
	list := splitCommaSeparated(stunURLs)
	if len(list) == 0 {
		return nil, nil
	}
	server := webrtc.ICEServer{URLs: list}
	if err := validateICEServer(server); err != nil {
		return nil, err
	}
	return []webrtc.ICEServer{server}, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, raw := range server.URLs {
		url := strings.TrimSpace(raw)
		switch {
		case url == "":
			return errors.New("urls must not contain empty entries")
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			return fmt.Errorf("%w: %q", ErrTURNUnsupported, url)
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}
	return nil
}
