package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	t.Run("drops default port and lowercases", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("HTTPS://Example.COM:443")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://example.com" {
			t.Fatalf("normalized=%q, want %q", normalized, "https://example.com")
		}
		if host != "example.com" {
			t.Fatalf("host=%q, want %q", host, "example.com")
		}
	})

	t.Run("keeps explicit port and trailing slash", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("http://localhost:5173/")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://localhost:5173" || host != "localhost:5173" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("ipv6", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("http://[::1]:8080")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://[::1]:8080" || host != "[::1]:8080" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("null", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("null")
		if !ok || normalized != "null" || host != "" {
			t.Fatalf("normalized=%q host=%q ok=%v", normalized, host, ok)
		}
	})

	for _, bad := range []string{
		"",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com?q=1",
		"https://user@example.com",
		"https://example.com#frag",
		"https://example.com:0",
		"https://example.com:99999",
		"https://[::1",
	} {
		if _, _, ok := NormalizeHeader(bad); ok {
			t.Fatalf("NormalizeHeader(%q) ok=true, want false", bad)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	if !IsAllowed("https://app.example.com", "app.example.com", "relay.example.com", []string{"https://app.example.com"}) {
		t.Fatalf("expected allow-listed origin to pass")
	}
	if IsAllowed("https://evil.example.com", "evil.example.com", "relay.example.com", []string{"https://app.example.com"}) {
		t.Fatalf("expected unknown origin to be rejected")
	}
	if !IsAllowed("https://evil.example.com", "evil.example.com", "relay.example.com", []string{"*"}) {
		t.Fatalf("expected wildcard to allow any origin")
	}
	if !IsAllowed("https://relay.example.com", "relay.example.com", "relay.example.com:443", nil) {
		t.Fatalf("expected same-host origin to pass with default port")
	}
	if IsAllowed("http://localhost:3000", "localhost:3000", "localhost:8000", nil) {
		t.Fatalf("expected different port to be rejected")
	}
	if IsAllowed("null", "", "localhost:8000", nil) {
		t.Fatalf("expected null origin to be rejected without allow list")
	}
}

func TestCheckOrigin(t *testing.T) {
	check := CheckOrigin([]string{"http://localhost:3000"})

	r := httptest.NewRequest("GET", "http://localhost:8000/ws", nil)
	if !check(r) {
		t.Fatalf("expected request without Origin to pass")
	}

	r.Header.Set("Origin", "http://localhost:3000")
	if !check(r) {
		t.Fatalf("expected allow-listed origin to pass")
	}

	r.Header.Set("Origin", "http://localhost:4000")
	if check(r) {
		t.Fatalf("expected other origin to be rejected")
	}
}
