package signaling

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseMessage_Join(t *testing.T) {
	got, err := ParseMessage([]byte(`{"type":"room:join","email":"a@example.com","room":"r1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != MessageTypeJoin || got.Email != "a@example.com" || got.Room != "r1" {
		t.Fatalf("unexpected decoded join: %#v", got)
	}
}

func TestParseMessage_KeepsPayloadBytes(t *testing.T) {
	raw := `{"type":"user:call","to":"b","offer":{"type":"offer","sdp":"v=0\r\n","extra":[1,2]}}`
	got, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := `{"type":"offer","sdp":"v=0\r\n","extra":[1,2]}`
	if string(got.Offer) != want {
		t.Fatalf("offer=%s, want %s", got.Offer, want)
	}
}

func TestParseMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":      `{"type":"room:leave","unexpected":true}`,
		"trailing data":      `{"type":"room:leave"}{}`,
		"unknown type":       `{"type":"offer"}`,
		"join without room":  `{"type":"room:join","email":"a"}`,
		"call without to":    `{"type":"user:call","offer":{}}`,
		"call without offer": `{"type":"user:call","to":"b"}`,
		"accept without ans": `{"type":"call:accepted","to":"b"}`,
		"candidate missing":  `{"type":"ice-candidate","to":"b"}`,
		"toggle without on":  `{"type":"camera-toggle","to":"b"}`,
		"empty chat":         `{"type":"text-message","room":"r1"}`,
		"joined without id":  `{"type":"user:joined"}`,
		"error without code": `{"type":"error","message":"x"}`,
		"not json":           `hello`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(raw)); err == nil {
				t.Fatalf("expected error for %s", raw)
			}
		})
	}
}

func TestParseMessage_ToggleOff(t *testing.T) {
	got, err := ParseMessage([]byte(`{"type":"camera-toggle","to":"b","on":false}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.On == nil || *got.On {
		t.Fatalf("on=%v, want false", got.On)
	}
}

func TestDescriptionEncoding(t *testing.T) {
	raw, err := EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"type":"answer","sdp":"v=0"}` {
		t.Fatalf("raw=%s", raw)
	}
	desc, err := DecodeDescription(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer || desc.SDP != "v=0" {
		t.Fatalf("desc=%+v", desc)
	}

	for _, bad := range []string{`{"type":"rollback","sdp":"v=0"}`, `{"type":"offer"}`, `[]`} {
		if _, err := DecodeDescription(json.RawMessage(bad)); err == nil {
			t.Fatalf("expected error decoding %s", bad)
		}
	}
}

func TestCandidateEncoding(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	raw, err := EncodeCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host", SDPMid: &mid, SDPMLineIndex: &idx})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), `"sdpMid":"0"`) || !strings.Contains(string(raw), `"sdpMLineIndex":0`) {
		t.Fatalf("raw=%s", raw)
	}
	got, err := DecodeCandidate(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Candidate == "" || got.SDPMid == nil || *got.SDPMid != "0" || got.SDPMLineIndex == nil {
		t.Fatalf("candidate=%+v", got)
	}
}

func TestForwardedType(t *testing.T) {
	cases := map[MessageType]MessageType{
		MessageTypeCall:         MessageTypeIncomingCall,
		MessageTypeNegoDone:     MessageTypeNegoFinal,
		MessageTypeEndCall:      MessageTypeCallEnded,
		MessageTypeCallAccepted: MessageTypeCallAccepted,
		MessageTypeNegoNeeded:   MessageTypeNegoNeeded,
		MessageTypeCandidate:    MessageTypeCandidate,
		MessageTypeCameraToggle: MessageTypeCameraToggle,
	}
	for in, want := range cases {
		if got := forwardedType(in); got != want {
			t.Fatalf("forwardedType(%s)=%s, want %s", in, got, want)
		}
	}
}
