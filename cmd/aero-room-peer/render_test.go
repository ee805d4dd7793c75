package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/chatlog"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/negotiation"
)

func TestHistoryTable(t *testing.T) {
	if got := historyTable(nil); !strings.Contains(got, "No messages") {
		t.Fatalf("empty table=%q", got)
	}

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	got := historyTable([]chatlog.Message{
		{Room: "r1", Sender: "alice@example.com", Content: "hi\nthere", CreatedAt: at},
		{Room: "r1", Sender: "bob", Content: strings.Repeat("x", 100), CreatedAt: at.Add(time.Second)},
	})
	for _, want := range []string{"Sender", "alice@example.com", "hi there", "2024-05-06T07:08:09Z", "bob", "…"} {
		if !strings.Contains(got, want) {
			t.Fatalf("table missing %q:\n%s", want, got)
		}
	}
}

func TestStatusLine(t *testing.T) {
	got := statusLine(client.Status{
		Room:        "r1",
		SelfID:      "me",
		Call:        negotiation.StateConnected,
		Negotiating: true,
		CameraOn:    false,
		MicOn:       true,
	})
	for _, want := range []string{"room=r1", "self=me", "peer=-", "call=connected+negotiating", "camera=off", "mic=on"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status line missing %q: %s", want, got)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 10); got != "héllo" {
		t.Fatalf("truncate=%q", got)
	}
	if got := truncate("héllo world", 5); got != "héll…" {
		t.Fatalf("truncate=%q, want héll…", got)
	}
}

func TestHistoryRequiresDatabaseURL(t *testing.T) {
	t.Setenv(envVarChatDatabaseURL, "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"history", "r1"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), envVarChatDatabaseURL) {
		t.Fatalf("err=%v, want missing database url", err)
	}
}

func TestJoinRequiresRoom(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"join", "--no-stdin", "--config", ""})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without a room")
	}
}
