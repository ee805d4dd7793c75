// Package negotiation sequences the offer/answer exchange of one call.
//
// A Session owns a single PeerConnection for one room visit. It orders local
// and remote description updates, holds ICE candidates that arrive before the
// remote description is applied, serializes renegotiation, and tears the
// connection down exactly once on hang up.
package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrMediaUnavailable reports that local media could not be acquired.
	// No offer or answer is sent when it is returned.
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrSessionEnded     = errors.New("session ended")
	ErrAnswerTimeout    = errors.New("no answer received")
	ErrInvalidState     = errors.New("operation not valid in current state")
)

// NegotiationError wraps a failure to create or apply a session description.
// The session has been returned to idle with a fresh PeerConnection when one
// is reported.
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation: %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

type State int

const (
	StateIdle State = iota
	// StateRinging holds an incoming offer until the user accepts or rejects.
	StateRinging
	StateOffering
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateOffering:
		return "offering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PeerConnection is the part of *webrtc.PeerConnection a Session drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Factory creates the PeerConnection for a new or reset session.
type Factory func() (PeerConnection, error)

// LocalMedia is the local capture boundary: separable tracks that can be
// paused individually.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	SetEnabled(kind webrtc.RTPCodecType, on bool) bool
	Stop()
}

type MediaSource func(ctx context.Context) (LocalMedia, error)

// Signaler carries descriptions and candidates to the remote peer.
// renegotiation selects the mid-call message kinds.
type Signaler interface {
	SendOffer(to string, desc webrtc.SessionDescription, renegotiation bool) error
	SendAnswer(to string, desc webrtc.SessionDescription, renegotiation bool) error
	SendCandidate(to string, candidate webrtc.ICECandidateInit) error
	SendHangup(to string) error
}
