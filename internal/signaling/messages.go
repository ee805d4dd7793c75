package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	MessageTypeJoin     MessageType = "room:join"
	MessageTypeLeave    MessageType = "room:leave"
	MessageTypeJoined   MessageType = "user:joined"
	MessageTypePeerLeft MessageType = "peer:left"

	MessageTypeCall         MessageType = "user:call"
	MessageTypeIncomingCall MessageType = "incomming:call"
	MessageTypeCallAccepted MessageType = "call:accepted"

	MessageTypeNegoNeeded MessageType = "peer:nego:needed"
	MessageTypeNegoDone   MessageType = "peer:nego:done"
	MessageTypeNegoFinal  MessageType = "peer:nego:final"

	MessageTypeCandidate    MessageType = "ice-candidate"
	MessageTypeCameraToggle MessageType = "camera-toggle"
	MessageTypeText         MessageType = "text-message"
	MessageTypeEndCall      MessageType = "end-call"
	MessageTypeCallEnded    MessageType = "call-ended"

	MessageTypeError MessageType = "error"
)

// Error codes carried by MessageTypeError envelopes.
const (
	ErrorCodeBadMessage   = "bad_message"
	ErrorCodeUnexpected   = "unexpected_message"
	ErrorCodeRateLimited  = "rate_limited"
	ErrorCodeRoomFull     = "room_full"
	ErrorCodeNotInRoom    = "not_in_room"
	ErrorCodePeerNotFound = "peer_not_found"
	ErrorCodeRoomMismatch = "room_mismatch"
	ErrorCodeInternal     = "internal_error"
)

// Message is the flat JSON envelope exchanged with browsers. Offer, Ans and
// Candidate stay raw so the relay forwards them unchanged.
type Message struct {
	Type MessageType `json:"type"`

	Email string `json:"email,omitempty"`
	Room  string `json:"room,omitempty"`
	ID    string `json:"id,omitempty"`

	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty"`
	Ans       json.RawMessage `json:"ans,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	On        *bool           `json:"on,omitempty"`

	Message   string     `json:"message,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Code string `json:"code,omitempty"`
}

// directed reports whether the kind is addressed to a single peer.
func (t MessageType) directed() bool {
	switch t {
	case MessageTypeCall, MessageTypeIncomingCall, MessageTypeCallAccepted,
		MessageTypeNegoNeeded, MessageTypeNegoDone, MessageTypeNegoFinal,
		MessageTypeCandidate, MessageTypeCameraToggle,
		MessageTypeEndCall, MessageTypeCallEnded:
		return true
	}
	return false
}

// forwardedType is the kind the receiving peer sees for a directed message.
func forwardedType(t MessageType) MessageType {
	switch t {
	case MessageTypeCall:
		return MessageTypeIncomingCall
	case MessageTypeNegoDone:
		return MessageTypeNegoFinal
	case MessageTypeEndCall:
		return MessageTypeCallEnded
	default:
		return t
	}
}

func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) validate() error {
	switch {
	case m.Type == MessageTypeJoin:
		if m.Room == "" {
			return fmt.Errorf("%s message missing room", m.Type)
		}
	case m.Type == MessageTypeLeave:
	case m.Type == MessageTypeJoined, m.Type == MessageTypePeerLeft:
		if m.ID == "" {
			return fmt.Errorf("%s message missing id", m.Type)
		}
	case m.Type.directed():
		if m.To == "" && m.From == "" {
			return fmt.Errorf("%s message missing to", m.Type)
		}
		if err := m.validatePayload(); err != nil {
			return err
		}
	case m.Type == MessageTypeText:
		if m.Message == "" {
			return fmt.Errorf("%s message missing message", m.Type)
		}
	case m.Type == MessageTypeError:
		if m.Code == "" || m.Message == "" {
			return fmt.Errorf("error message missing code/message")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (m Message) validatePayload() error {
	switch m.Type {
	case MessageTypeCall, MessageTypeIncomingCall, MessageTypeNegoNeeded:
		if len(m.Offer) == 0 {
			return fmt.Errorf("%s message missing offer", m.Type)
		}
	case MessageTypeCallAccepted, MessageTypeNegoDone, MessageTypeNegoFinal:
		if len(m.Ans) == 0 {
			return fmt.Errorf("%s message missing ans", m.Type)
		}
	case MessageTypeCandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("%s message missing candidate", m.Type)
		}
	case MessageTypeCameraToggle:
		if m.On == nil {
			return fmt.Errorf("%s message missing on", m.Type)
		}
	}
	return nil
}

type sdp struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s sdp) toPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	if s.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("missing sdp")
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// EncodeDescription renders a session description the way browsers send
// RTCSessionDescriptionInit.
func EncodeDescription(desc webrtc.SessionDescription) (json.RawMessage, error) {
	return json.Marshal(sdp{Type: desc.Type.String(), SDP: desc.SDP})
}

func DecodeDescription(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var s sdp
	if err := json.Unmarshal(raw, &s); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	return s.toPion()
}

type candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func EncodeCandidate(init webrtc.ICECandidateInit) (json.RawMessage, error) {
	return json.Marshal(candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func DecodeCandidate(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var c candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("decode ice candidate: %w", err)
	}
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}, nil
}
