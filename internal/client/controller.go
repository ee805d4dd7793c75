// Package client drives a negotiation.Session from relay envelopes and local
// user actions, and keeps the read-only call status and chat history a UI
// renders.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/signaling"
)

const eventQueueSize = 64

var (
	ErrNotInRoom = errors.New("not in a room")
	ErrNoPeer    = errors.New("no peer in room")
)

// RemoteError is an error envelope sent by the relay.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

type EventKind int

const (
	EventStatus EventKind = iota
	EventIncomingCall
	EventRemoteTrack
	EventChat
	EventError
)

// Event is delivered on Controller.Events. Only the fields relevant to Kind
// are set; Status is always the snapshot at the time of the event.
type Event struct {
	Kind   EventKind
	Status Status
	Chat   ChatMessage
	Track  *webrtc.TrackRemote
	Err    error
}

type Status struct {
	Email  string
	Room   string
	SelfID string
	PeerID string

	Call        negotiation.State
	Negotiating bool

	CameraOn       bool
	MicOn          bool
	RemoteCameraOn bool
}

type ChatMessage struct {
	Sender  string
	Content string
	At      time.Time
	// Local is set for messages this client sent.
	Local bool
}

type ControllerConfig struct {
	Transport         Transport
	NewPeerConnection negotiation.Factory
	AcquireMedia      negotiation.MediaSource
	AnswerTimeout     time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

// Controller maps relay envelopes 1:1 onto negotiation actions. It owns the
// session lifecycle: every room entry and every finished call starts a fresh
// idle session.
type Controller struct {
	cfg    ControllerConfig
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	status  Status
	session *negotiation.Session
	gen     uint64
	chat    []ChatMessage
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	if cfg.NewPeerConnection == nil {
		return nil, errors.New("client: peer connection factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:    cfg,
		log:    cfg.Logger,
		events: make(chan Event, eventQueueSize),
		status: Status{CameraOn: true, MicOn: true, RemoteCameraOn: true},
	}, nil
}

// Events is the UI boundary. Events are dropped when the consumer falls
// behind; Status and Chat always reflect the latest state.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) Status() Status {
	c.mu.Lock()
	st, sess := c.status, c.session
	c.mu.Unlock()
	if sess != nil {
		st.Call = sess.State()
		st.Negotiating = sess.Negotiating()
	}
	return st
}

func (c *Controller) Chat() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.chat))
	copy(out, c.chat)
	return out
}

// EnterRoom joins room as email. Any existing call is hung up and replaced
// with a fresh idle session so no PeerConnection outlives a room visit.
func (c *Controller) EnterRoom(email, room string) error {
	if room == "" {
		return errors.New("client: room is required")
	}
	c.mu.Lock()
	c.status.Email = email
	c.status.Room = room
	c.status.PeerID = ""
	c.status.RemoteCameraOn = true
	c.chat = nil
	c.mu.Unlock()

	if err := c.resetSession(true); err != nil {
		return err
	}
	return c.cfg.Transport.Send(signaling.Message{Type: signaling.MessageTypeJoin, Email: email, Room: room})
}

func (c *Controller) LeaveRoom() error {
	c.mu.Lock()
	if c.status.Room == "" {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	c.status.Room = ""
	c.status.PeerID = ""
	c.status.SelfID = ""
	c.mu.Unlock()

	c.discardSession(true)
	c.emit(Event{Kind: EventStatus})
	return c.cfg.Transport.Send(signaling.Message{Type: signaling.MessageTypeLeave})
}

func (c *Controller) PlaceCall(ctx context.Context) error {
	sess, peer, err := c.callTarget()
	if err != nil {
		return err
	}
	if err := sess.PlaceCall(ctx, peer); err != nil {
		return err
	}
	c.applyTrackToggles(sess)
	return nil
}

func (c *Controller) AcceptCall(ctx context.Context) error {
	sess := c.currentSession()
	if sess == nil {
		return ErrNotInRoom
	}
	if err := sess.AcceptCall(ctx); err != nil {
		return err
	}
	c.applyTrackToggles(sess)
	return nil
}

func (c *Controller) RejectCall() error {
	sess := c.currentSession()
	if sess == nil {
		return ErrNotInRoom
	}
	return sess.RejectCall()
}

// HangUp ends the current call and prepares a fresh session for the next one.
func (c *Controller) HangUp() error {
	sess := c.currentSession()
	if sess == nil {
		return ErrNotInRoom
	}
	err := sess.Hangup()
	if rerr := c.resetSession(false); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// ToggleCamera flips the local video track and tells the peer.
func (c *Controller) ToggleCamera() (bool, error) {
	c.mu.Lock()
	on := !c.status.CameraOn
	c.status.CameraOn = on
	sess, peer, self := c.session, c.status.PeerID, c.status.SelfID
	c.mu.Unlock()

	if sess != nil {
		sess.SetTrackEnabled(webrtc.RTPCodecTypeVideo, on)
	}
	c.emit(Event{Kind: EventStatus})
	if peer == "" {
		return on, nil
	}
	return on, c.cfg.Transport.Send(signaling.Message{
		Type: signaling.MessageTypeCameraToggle,
		To:   peer,
		From: self,
		On:   &on,
	})
}

// ToggleMic flips the local audio track. The peer is not notified.
func (c *Controller) ToggleMic() bool {
	c.mu.Lock()
	on := !c.status.MicOn
	c.status.MicOn = on
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		sess.SetTrackEnabled(webrtc.RTPCodecTypeAudio, on)
	}
	c.emit(Event{Kind: EventStatus})
	return on
}

func (c *Controller) SendChat(text string) error {
	if text == "" {
		return errors.New("client: empty chat message")
	}
	c.mu.Lock()
	room, sender := c.status.Room, c.status.Email
	c.mu.Unlock()
	if room == "" {
		return ErrNotInRoom
	}

	if err := c.cfg.Transport.Send(signaling.Message{
		Type:    signaling.MessageTypeText,
		Room:    room,
		Message: text,
		Sender:  sender,
	}); err != nil {
		return err
	}
	c.appendChat(ChatMessage{Sender: sender, Content: text, At: c.cfg.Now(), Local: true})
	return nil
}

// Run dispatches relay envelopes until ctx is done or the transport closes.
// Per-message failures are reported on Events and do not stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	msgs := c.cfg.Transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.discardSession(false)
				return ErrTransportClosed
			}
			if err := c.HandleMessage(ctx, msg); err != nil {
				c.log.Warn("failed to handle signaling message", "type", string(msg.Type), "err", err)
				c.emit(Event{Kind: EventError, Err: err})
			}
		}
	}
}

// HandleMessage applies one relay envelope.
func (c *Controller) HandleMessage(ctx context.Context, msg signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypeJoin:
		c.mu.Lock()
		c.status.SelfID = msg.ID
		c.mu.Unlock()
		c.emit(Event{Kind: EventStatus})
		return nil

	case signaling.MessageTypeJoined:
		c.mu.Lock()
		c.status.PeerID = msg.ID
		c.mu.Unlock()
		c.log.Info("peer joined room", "peer", msg.ID)
		c.emit(Event{Kind: EventStatus})
		return nil

	case signaling.MessageTypePeerLeft:
		c.mu.Lock()
		known := c.status.PeerID == msg.ID
		if known {
			c.status.PeerID = ""
			c.status.RemoteCameraOn = true
		}
		c.mu.Unlock()
		if !known {
			return nil
		}
		c.log.Info("peer left room", "peer", msg.ID)
		return c.remoteHangup()

	case signaling.MessageTypeIncomingCall:
		offer, err := signaling.DecodeDescription(msg.Offer)
		if err != nil {
			return err
		}
		sess := c.currentSession()
		if sess == nil {
			return ErrNotInRoom
		}
		if err := sess.ReceiveOffer(msg.From, offer); err != nil {
			return err
		}
		if sess.State() != negotiation.StateRinging {
			// Our own offer crossed this one and the peer yields.
			return nil
		}
		c.mu.Lock()
		c.status.PeerID = msg.From
		c.mu.Unlock()
		c.emit(Event{Kind: EventIncomingCall})
		return nil

	case signaling.MessageTypeCallAccepted:
		answer, err := signaling.DecodeDescription(msg.Ans)
		if err != nil {
			return err
		}
		return c.withSession(func(s *negotiation.Session) error { return s.ReceiveAnswer(answer) })

	case signaling.MessageTypeNegoNeeded:
		offer, err := signaling.DecodeDescription(msg.Offer)
		if err != nil {
			return err
		}
		return c.withSession(func(s *negotiation.Session) error {
			return s.ReceiveRenegotiationOffer(ctx, msg.From, offer)
		})

	case signaling.MessageTypeNegoFinal:
		answer, err := signaling.DecodeDescription(msg.Ans)
		if err != nil {
			return err
		}
		return c.withSession(func(s *negotiation.Session) error {
			return s.ReceiveRenegotiationAnswer(ctx, answer)
		})

	case signaling.MessageTypeCandidate:
		candidate, err := signaling.DecodeCandidate(msg.Candidate)
		if err != nil {
			return err
		}
		return c.withSession(func(s *negotiation.Session) error {
			s.ReceiveCandidate(candidate)
			return nil
		})

	case signaling.MessageTypeCameraToggle:
		if msg.On == nil {
			return nil
		}
		c.mu.Lock()
		c.status.RemoteCameraOn = *msg.On
		c.mu.Unlock()
		c.emit(Event{Kind: EventStatus})
		return nil

	case signaling.MessageTypeText:
		at := c.cfg.Now()
		if msg.Timestamp != nil {
			at = *msg.Timestamp
		}
		chat := ChatMessage{Sender: msg.Sender, Content: msg.Message, At: at}
		c.appendChat(chat)
		c.emit(Event{Kind: EventChat, Chat: chat})
		return nil

	case signaling.MessageTypeCallEnded:
		return c.remoteHangup()

	case signaling.MessageTypeError:
		return &RemoteError{Code: msg.Code, Message: msg.Message}

	default:
		return fmt.Errorf("client: unexpected message type %q", msg.Type)
	}
}

func (c *Controller) remoteHangup() error {
	if sess := c.currentSession(); sess != nil {
		sess.RemoteHangup()
	}
	return c.resetSession(false)
}

// resetSession replaces the current session with a fresh idle one. When
// hangup is set the old session is hung up first, which notifies the peer.
func (c *Controller) resetSession(hangup bool) error {
	c.discardSession(hangup)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	sess, err := negotiation.NewSession(negotiation.Config{
		NewPeerConnection: c.cfg.NewPeerConnection,
		AcquireMedia:      c.cfg.AcquireMedia,
		Signaler:          signaler{t: c.cfg.Transport},
		AnswerTimeout:     c.cfg.AnswerTimeout,
		Logger:            c.log,
		Polite:            c.politeTo,
		OnStateChange: func(st negotiation.State) {
			if c.isCurrent(gen) {
				c.log.Debug("call state changed", "state", st.String())
				c.emit(Event{Kind: EventStatus})
			}
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			if c.isCurrent(gen) {
				c.emit(Event{Kind: EventRemoteTrack, Track: track})
			}
		},
		OnError: func(err error) {
			if c.isCurrent(gen) {
				c.emit(Event{Kind: EventError, Err: err})
			}
		},
	})
	if err != nil {
		return fmt.Errorf("client: new session: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		sess.RemoteHangup()
		return nil
	}
	c.session = sess
	c.mu.Unlock()
	c.emit(Event{Kind: EventStatus})
	return nil
}

// politeTo breaks ties between crossed calls: the side with the greater
// connection ID yields. Both sides learn both IDs from the relay.
func (c *Controller) politeTo(peer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.SelfID != "" && c.status.SelfID > peer
}

func (c *Controller) discardSession(hangup bool) {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.gen++
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if hangup {
		if err := sess.Hangup(); err != nil {
			c.log.Debug("hang up on reset failed", "err", err)
		}
		return
	}
	sess.RemoteHangup()
}

// applyTrackToggles carries the user's camera/mic choice over to media that
// was acquired for a new call.
func (c *Controller) applyTrackToggles(sess *negotiation.Session) {
	c.mu.Lock()
	camera, mic := c.status.CameraOn, c.status.MicOn
	c.mu.Unlock()
	sess.SetTrackEnabled(webrtc.RTPCodecTypeVideo, camera)
	sess.SetTrackEnabled(webrtc.RTPCodecTypeAudio, mic)
}

func (c *Controller) callTarget() (*negotiation.Session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.status.Room == "" {
		return nil, "", ErrNotInRoom
	}
	if c.status.PeerID == "" {
		return nil, "", ErrNoPeer
	}
	return c.session, c.status.PeerID, nil
}

func (c *Controller) withSession(fn func(*negotiation.Session) error) error {
	sess := c.currentSession()
	if sess == nil {
		return ErrNotInRoom
	}
	return fn(sess)
}

func (c *Controller) currentSession() *negotiation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) appendChat(msg ChatMessage) {
	c.mu.Lock()
	c.chat = append(c.chat, msg)
	c.mu.Unlock()
}

func (c *Controller) emit(ev Event) {
	ev.Status = c.Status()
	select {
	case c.events <- ev:
	default:
		c.log.Debug("dropping client event, consumer is behind", "kind", int(ev.Kind))
	}
}

// signaler implements negotiation.Signaler over a Transport.
type signaler struct {
	t Transport
}

func (s signaler) SendOffer(to string, desc webrtc.SessionDescription, renegotiation bool) error {
	raw, err := signaling.EncodeDescription(desc)
	if err != nil {
		return err
	}
	typ := signaling.MessageTypeCall
	if renegotiation {
		typ = signaling.MessageTypeNegoNeeded
	}
	return s.t.Send(signaling.Message{Type: typ, To: to, Offer: raw})
}

func (s signaler) SendAnswer(to string, desc webrtc.SessionDescription, renegotiation bool) error {
	raw, err := signaling.EncodeDescription(desc)
	if err != nil {
		return err
	}
	typ := signaling.MessageTypeCallAccepted
	if renegotiation {
		typ = signaling.MessageTypeNegoDone
	}
	return s.t.Send(signaling.Message{Type: typ, To: to, Ans: raw})
}

func (s signaler) SendCandidate(to string, candidate webrtc.ICECandidateInit) error {
	raw, err := signaling.EncodeCandidate(candidate)
	if err != nil {
		return err
	}
	return s.t.Send(signaling.Message{Type: signaling.MessageTypeCandidate, To: to, Candidate: raw})
}

func (s signaler) SendHangup(to string) error {
	return s.t.Send(signaling.Message{Type: signaling.MessageTypeEndCall, To: to})
}
