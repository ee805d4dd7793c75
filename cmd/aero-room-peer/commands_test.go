package main

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	for _, tc := range []struct {
		line    string
		want    command
		ok      bool
		wantErr bool
	}{
		{line: "", ok: false},
		{line: "   ", ok: false},
		{line: "hello there", want: command{kind: cmdChat, arg: "hello there"}, ok: true},
		{line: "/call", want: command{kind: cmdCall}, ok: true},
		{line: "/accept", want: command{kind: cmdAccept}, ok: true},
		{line: "/reject", want: command{kind: cmdReject}, ok: true},
		{line: " /hangup ", want: command{kind: cmdHangup}, ok: true},
		{line: "/camera", want: command{kind: cmdCamera}, ok: true},
		{line: "/mic", want: command{kind: cmdMic}, ok: true},
		{line: "/status", want: command{kind: cmdStatus}, ok: true},
		{line: "/leave", want: command{kind: cmdLeave}, ok: true},
		{line: "/join  standup", want: command{kind: cmdJoin, arg: "standup"}, ok: true},
		{line: "/join", wantErr: true},
		{line: "/dance", wantErr: true},
	} {
		got, ok, err := parseCommand(tc.line)
		if (err != nil) != tc.wantErr {
			t.Fatalf("parseCommand(%q) err=%v, wantErr=%v", tc.line, err, tc.wantErr)
		}
		if tc.wantErr {
			continue
		}
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseCommand(%q)=(%+v, %v), want (%+v, %v)", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}
