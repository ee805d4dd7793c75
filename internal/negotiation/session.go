package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

const DefaultAnswerTimeout = 30 * time.Second

type Config struct {
	NewPeerConnection Factory
	AcquireMedia      MediaSource
	Signaler          Signaler

	// AnswerTimeout bounds how long an outgoing call waits for an answer.
	AnswerTimeout time.Duration
	Logger        *slog.Logger

	// Polite reports whether this side yields when its initial offer to peer
	// crosses the peer's. Exactly one of the two sides must answer true. A nil
	// Polite never yields.
	Polite func(peer string) bool

	// Callbacks run without internal locks held. They must not block.
	OnStateChange func(State)
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnError receives failures that happen outside a caller's operation,
	// such as the answer timeout.
	OnError func(error)
}

// Session is one call attempt's PeerConnection lifecycle.
//
// Negotiation operations (everything that creates or applies a description)
// are serialized by opMu. Hangup and candidate handling do not take opMu, so
// they never wait behind an in-flight description; results that complete
// after a hang up are discarded by comparing epochs.
type Session struct {
	cfg Config
	log *slog.Logger

	opMu sync.Mutex

	mu                   sync.Mutex
	state                State
	negotiating          bool
	pendingRenegotiation bool
	polite               bool
	peer                 string
	pendingOffer         *webrtc.SessionDescription
	pc                   PeerConnection
	media                LocalMedia
	extraTracks          []webrtc.TrackLocal
	senders              map[string]*webrtc.RTPSender
	answerTimer          *time.Timer
	epoch                uint64
	notify               []State

	candMu               sync.Mutex
	candEpoch            uint64
	remoteDescriptionSet bool
	candidates           []webrtc.ICECandidateInit
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.NewPeerConnection == nil {
		return nil, errors.New("negotiation: NewPeerConnection is required")
	}
	if cfg.Signaler == nil {
		return nil, errors.New("negotiation: Signaler is required")
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		senders: make(map[string]*webrtc.RTPSender),
	}
	s.mu.Lock()
	_, err := s.peerConnectionLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Negotiating reports whether a renegotiation offer is awaiting its answer.
func (s *Session) Negotiating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiating
}

func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// PlaceCall attaches local media, sends an offer to peer and waits for the
// answer. Without local media nothing is sent and the session stays idle.
func (s *Session) PlaceCall(ctx context.Context, peer string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("place call", StateIdle); err != nil {
		s.mu.Unlock()
		return err
	}
	epoch := s.epoch
	s.mu.Unlock()

	media, err := s.ensureMedia(ctx, epoch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	pc, err := s.peerConnectionLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.peer = peer
	s.polite = false
	s.setStateLocked(StateOffering)
	s.unlock()

	if err := s.attachTracks(pc, media); err != nil {
		return s.abort(epoch, "add track", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return s.abort(epoch, "create offer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return s.abort(epoch, "set local offer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := s.cfg.Signaler.SendOffer(peer, offer, false); err != nil {
		return s.abort(epoch, "send offer", err)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() { s.answerTimedOut(epoch) })
	}
	s.mu.Unlock()
	return nil
}

// ReceiveOffer buffers an incoming call until AcceptCall or RejectCall.
//
// If this side is already offering to from, the two calls crossed. The polite
// side rolls back its offer and rings; the other ignores the incoming offer
// and keeps waiting for its answer.
func (s *Session) ReceiveOffer(from string, offer webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	polite := s.cfg.Polite != nil && s.cfg.Polite(from)

	s.mu.Lock()
	if s.state == StateOffering && s.peer == from {
		return s.resolveGlare(from, offer, polite)
	}
	if err := s.expectLocked("receive offer", StateIdle); err != nil {
		s.mu.Unlock()
		return err
	}
	s.peer = from
	s.polite = true
	s.pendingOffer = &offer
	s.setStateLocked(StateRinging)
	s.unlock()
	return nil
}

// resolveGlare is called with opMu and mu held and releases mu.
func (s *Session) resolveGlare(from string, offer webrtc.SessionDescription, polite bool) error {
	if !polite {
		s.mu.Unlock()
		s.log.Info("ignoring colliding call offer", "peer", from)
		return nil
	}
	s.stopTimerLocked()
	epoch, pc := s.epoch, s.pc
	s.mu.Unlock()

	if err := pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return s.abort(epoch, "rollback local offer", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.polite = true
	s.pendingOffer = &offer
	s.setStateLocked(StateRinging)
	s.unlock()
	s.log.Info("call offers collided, yielding to peer", "peer", from)
	return nil
}

// AcceptCall applies the buffered offer and answers it.
func (s *Session) AcceptCall(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("accept call", StateRinging); err != nil {
		s.mu.Unlock()
		return err
	}
	epoch, peer, offer := s.epoch, s.peer, *s.pendingOffer
	pc, err := s.peerConnectionLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	media, err := s.ensureMedia(ctx, epoch)
	if err != nil {
		return err
	}

	if err := s.applyRemote(pc, offer); err != nil {
		return s.abort(epoch, "set remote offer", err)
	}
	if err := s.attachTracks(pc, media); err != nil {
		return s.abort(epoch, "add track", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return s.abort(epoch, "create answer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return s.abort(epoch, "set local answer", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.pendingOffer = nil
	s.setStateLocked(StateConnecting)
	s.unlock()

	if err := s.cfg.Signaler.SendAnswer(peer, answer, false); err != nil {
		return s.abort(epoch, "send answer", err)
	}
	return nil
}

// RejectCall drops the buffered offer and tells the caller the call ended.
func (s *Session) RejectCall() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("reject call", StateRinging); err != nil {
		s.mu.Unlock()
		return err
	}
	peer := s.peer
	s.peer = ""
	s.pendingOffer = nil
	s.setStateLocked(StateIdle)
	s.unlock()

	s.clearCandidates()
	return s.cfg.Signaler.SendHangup(peer)
}

// ReceiveAnswer applies the answer to an outgoing call.
func (s *Session) ReceiveAnswer(answer webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("receive answer", StateOffering); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopTimerLocked()
	epoch := s.epoch
	pc := s.pc
	s.mu.Unlock()

	if err := s.applyRemote(pc, answer); err != nil {
		return s.abort(epoch, "set remote answer", err)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.setStateLocked(StateConnecting)
	}
	s.unlock()
	return nil
}

// ReceiveCandidate applies a remote ICE candidate, or queues it until the
// remote description is set. Application failures are logged, not returned.
func (s *Session) ReceiveCandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	pc, epoch, ended := s.pc, s.epoch, s.state == StateEnded
	s.mu.Unlock()
	if ended || pc == nil {
		return
	}
	s.addCandidate(epoch, pc, candidate)
}

// addCandidate drops candidates read before a reset so they never reach the
// next attempt's queue.
func (s *Session) addCandidate(epoch uint64, pc PeerConnection, candidate webrtc.ICECandidateInit) {
	s.candMu.Lock()
	defer s.candMu.Unlock()
	if s.candEpoch != epoch {
		return
	}
	if !s.remoteDescriptionSet {
		s.candidates = append(s.candidates, candidate)
		return
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		s.log.Warn("failed to apply ice candidate", "err", err)
	}
}

// Renegotiate sends a fresh offer on an established call. A request made
// while another renegotiation is in flight is replayed once that one
// completes.
func (s *Session) Renegotiate(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.renegotiate(ctx)
}

// renegotiate requires opMu.
func (s *Session) renegotiate(_ context.Context) error {
	s.mu.Lock()
	if err := s.expectLocked("renegotiate", StateConnecting, StateConnected); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.negotiating {
		s.pendingRenegotiation = true
		s.mu.Unlock()
		return nil
	}
	s.negotiating = true
	s.pendingRenegotiation = false
	epoch, peer, pc := s.epoch, s.peer, s.pc
	s.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return s.abort(epoch, "create renegotiation offer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return s.abort(epoch, "set local renegotiation offer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := s.cfg.Signaler.SendOffer(peer, offer, true); err != nil {
		return s.abort(epoch, "send renegotiation offer", err)
	}
	return nil
}

// ReceiveRenegotiationOffer answers a mid-call offer from the peer.
//
// When both sides renegotiate at once the callee is the polite peer: it rolls
// back its own offer, answers, and replays its change afterwards. The caller
// ignores the colliding offer and keeps waiting for its answer.
func (s *Session) ReceiveRenegotiationOffer(ctx context.Context, from string, offer webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("receive renegotiation offer", StateConnecting, StateConnected); err != nil {
		s.mu.Unlock()
		return err
	}
	epoch, pc := s.epoch, s.pc
	collision := s.negotiating
	if collision && !s.polite {
		s.mu.Unlock()
		s.log.Info("ignoring colliding renegotiation offer", "peer", from)
		return nil
	}
	s.mu.Unlock()

	if collision {
		if err := pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return s.abort(epoch, "rollback local offer", err)
		}
		s.mu.Lock()
		s.negotiating = false
		s.pendingRenegotiation = true
		s.mu.Unlock()
	}

	if err := s.applyRemote(pc, offer); err != nil {
		return s.abort(epoch, "set remote renegotiation offer", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return s.abort(epoch, "create renegotiation answer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return s.abort(epoch, "set local renegotiation answer", err)
	}
	if !s.current(epoch) {
		return ErrSessionEnded
	}
	if err := s.cfg.Signaler.SendAnswer(from, answer, true); err != nil {
		return s.abort(epoch, "send renegotiation answer", err)
	}
	return s.replayRenegotiation(ctx)
}

// ReceiveRenegotiationAnswer completes a renegotiation this side started.
// Answers that match no outstanding offer are ignored.
func (s *Session) ReceiveRenegotiationAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if !s.negotiating {
		s.mu.Unlock()
		s.log.Debug("ignoring renegotiation answer without outstanding offer")
		return nil
	}
	epoch, pc := s.epoch, s.pc
	s.mu.Unlock()

	if err := s.applyRemote(pc, answer); err != nil {
		return s.abort(epoch, "set remote renegotiation answer", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.negotiating = false
	s.mu.Unlock()
	return s.replayRenegotiation(ctx)
}

// AddTrack adds a track to the call. On an established call this changes the
// transceiver set and starts a renegotiation.
func (s *Session) AddTrack(ctx context.Context, track webrtc.TrackLocal) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.expectLocked("add track", StateIdle, StateRinging, StateConnecting, StateConnected); err != nil {
		s.mu.Unlock()
		return err
	}
	s.extraTracks = append(s.extraTracks, track)
	established := s.state == StateConnecting || s.state == StateConnected
	epoch, pc := s.epoch, s.pc
	s.mu.Unlock()

	if !established {
		return nil
	}
	if err := s.attachTracks(pc, nil); err != nil {
		return s.abort(epoch, "add track", err)
	}
	return s.renegotiate(ctx)
}

// RemoveTrack removes a previously added local track by ID and renegotiates
// when a call is established.
func (s *Session) RemoveTrack(ctx context.Context, trackID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	for i, t := range s.extraTracks {
		if t.ID() == trackID {
			s.extraTracks = append(s.extraTracks[:i:i], s.extraTracks[i+1:]...)
			break
		}
	}
	sender, attached := s.senders[trackID]
	delete(s.senders, trackID)
	established := s.state == StateConnecting || s.state == StateConnected
	epoch, pc := s.epoch, s.pc
	s.mu.Unlock()

	if !attached {
		return nil
	}
	if err := pc.RemoveTrack(sender); err != nil {
		return s.abort(epoch, "remove track", err)
	}
	if !established {
		return nil
	}
	return s.renegotiate(ctx)
}

// SetTrackEnabled pauses or resumes local audio or video. The transceiver set
// is unchanged so no renegotiation happens.
func (s *Session) SetTrackEnabled(kind webrtc.RTPCodecType, on bool) bool {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return false
	}
	return media.SetEnabled(kind, on)
}

// Hangup ends the session and notifies the peer. It is idempotent.
func (s *Session) Hangup() error {
	return s.end(true)
}

// RemoteHangup ends the session after the peer hung up.
func (s *Session) RemoteHangup() {
	_ = s.end(false)
}

func (s *Session) end(notifyPeer bool) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	peer := s.peer
	pc, media := s.pc, s.media
	s.pc, s.media = nil, nil
	s.pendingOffer = nil
	s.negotiating = false
	s.pendingRenegotiation = false
	s.stopTimerLocked()
	s.advanceEpochLocked()
	s.setStateLocked(StateEnded)
	s.unlock()

	s.clearCandidates()
	if media != nil {
		media.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.log.Warn("failed to close peer connection", "err", err)
		}
	}
	if notifyPeer && peer != "" {
		return s.cfg.Signaler.SendHangup(peer)
	}
	return nil
}

func (s *Session) replayRenegotiation(ctx context.Context) error {
	s.mu.Lock()
	replay := s.pendingRenegotiation && !s.negotiating
	s.mu.Unlock()
	if !replay {
		return nil
	}
	return s.renegotiate(ctx)
}

func (s *Session) answerTimedOut(epoch uint64) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch || s.state != StateOffering {
		s.mu.Unlock()
		return
	}
	peer := s.peer
	old := s.resetLocked()
	s.unlock()

	s.closeStale(old)
	s.log.Info("call not answered", "peer", peer, "timeout", s.cfg.AnswerTimeout)
	if err := s.cfg.Signaler.SendHangup(peer); err != nil {
		s.log.Warn("failed to send hangup", "peer", peer, "err", err)
	}
	s.reportError(fmt.Errorf("%w within %s", ErrAnswerTimeout, s.cfg.AnswerTimeout))
}

// abort returns the session to idle with a fresh PeerConnection after a
// description failure.
func (s *Session) abort(epoch uint64, op string, err error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	old := s.resetLocked()
	s.unlock()

	s.closeStale(old)
	nerr := &NegotiationError{Op: op, Err: err}
	s.log.Warn("call attempt failed", "op", op, "err", err)
	return nerr
}

// resetLocked moves back to idle and replaces the PeerConnection. The old
// one is returned for the caller to close outside the lock.
func (s *Session) resetLocked() PeerConnection {
	old := s.pc
	s.pc = nil
	s.stopTimerLocked()
	s.advanceEpochLocked()
	s.peer = ""
	s.polite = false
	s.pendingOffer = nil
	s.negotiating = false
	s.pendingRenegotiation = false
	s.senders = make(map[string]*webrtc.RTPSender)
	s.setStateLocked(StateIdle)

	s.candMu.Lock()
	s.remoteDescriptionSet = false
	s.candidates = nil
	s.candMu.Unlock()

	if _, err := s.peerConnectionLocked(); err != nil {
		// Retried lazily by the next operation.
		s.log.Error("failed to create peer connection", "err", err)
	}
	return old
}

// advanceEpochLocked invalidates in-flight work for the current attempt,
// including candidates that have not reached the queue yet.
func (s *Session) advanceEpochLocked() {
	s.epoch++
	s.candMu.Lock()
	s.candEpoch = s.epoch
	s.candMu.Unlock()
}

func (s *Session) closeStale(pc PeerConnection) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		s.log.Warn("failed to close peer connection", "err", err)
	}
}

// peerConnectionLocked returns the current PeerConnection, creating and
// wiring one if needed.
func (s *Session) peerConnectionLocked() (PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.cfg.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	epoch := s.epoch

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.mu.Lock()
		peer, live := s.peer, s.epoch == epoch
		s.mu.Unlock()
		if !live || peer == "" {
			return
		}
		if err := s.cfg.Signaler.SendCandidate(peer, c.ToJSON()); err != nil {
			s.log.Warn("failed to send ice candidate", "err", err)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		if s.state == StateConnecting {
			s.setStateLocked(StateConnected)
		}
		s.unlock()
		if track != nil {
			s.log.Info("remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		}
		if s.cfg.OnRemoteTrack != nil {
			s.cfg.OnRemoteTrack(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			s.log.Warn("peer connection state changed", "state", state.String())
		default:
			s.log.Info("peer connection state changed", "state", state.String())
		}
	})

	s.pc = pc
	return pc, nil
}

func (s *Session) ensureMedia(ctx context.Context, epoch uint64) (LocalMedia, error) {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media != nil {
		return media, nil
	}
	if s.cfg.AcquireMedia == nil {
		return nil, ErrMediaUnavailable
	}

	media, err := s.cfg.AcquireMedia(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	if media == nil || len(media.Tracks()) == 0 {
		if media != nil {
			media.Stop()
		}
		return nil, ErrMediaUnavailable
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		media.Stop()
		return nil, ErrSessionEnded
	}
	s.media = media
	s.mu.Unlock()
	return media, nil
}

// attachTracks adds every local track not yet sent on pc.
func (s *Session) attachTracks(pc PeerConnection, media LocalMedia) error {
	s.mu.Lock()
	var tracks []webrtc.TrackLocal
	if media != nil {
		tracks = append(tracks, media.Tracks()...)
	}
	tracks = append(tracks, s.extraTracks...)
	var missing []webrtc.TrackLocal
	for _, t := range tracks {
		if _, ok := s.senders[t.ID()]; !ok {
			missing = append(missing, t)
		}
	}
	s.mu.Unlock()

	for _, t := range missing {
		sender, err := pc.AddTrack(t)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.senders[t.ID()] = sender
		s.mu.Unlock()
	}
	return nil
}

// applyRemote sets the remote description and, the first time, drains the
// candidates queued before it in arrival order. candMu is held across both
// so no candidate can slip in between.
func (s *Session) applyRemote(pc PeerConnection, desc webrtc.SessionDescription) error {
	s.candMu.Lock()
	defer s.candMu.Unlock()

	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	if s.remoteDescriptionSet {
		return nil
	}
	s.remoteDescriptionSet = true
	queued := s.candidates
	s.candidates = nil
	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			s.log.Warn("failed to apply queued ice candidate", "err", err)
		}
	}
	return nil
}

func (s *Session) clearCandidates() {
	s.candMu.Lock()
	s.candidates = nil
	s.candMu.Unlock()
}

func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

func (s *Session) expectLocked(op string, allowed ...State) error {
	if s.state == StateEnded {
		return ErrSessionEnded
	}
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s.state)
}

func (s *Session) stopTimerLocked() {
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	s.state = to
	s.notify = append(s.notify, to)
}

// unlock releases mu and then delivers queued state notifications.
func (s *Session) unlock() {
	pending := s.notify
	s.notify = nil
	s.mu.Unlock()
	if s.cfg.OnStateChange == nil {
		return
	}
	for _, st := range pending {
		s.cfg.OnStateChange(st)
	}
}

func (s *Session) reportError(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}
