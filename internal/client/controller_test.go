package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/signaling"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []signaling.Message
	msgs   chan signaling.Message
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan signaling.Message, 16)}
}

func (f *fakeTransport) Send(msg signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Messages() <-chan signaling.Message { return f.msgs }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.msgs)
	}
	return nil
}

func (f *fakeTransport) ofType(typ signaling.MessageType) []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signaling.Message
	for _, m := range f.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakePC struct {
	mu         sync.Mutex
	remote     []string
	candidates []string
	closed     bool
}

func (p *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePC) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = append(p.remote, desc.SDP)
	p.mu.Unlock()
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	p.candidates = append(p.candidates, c.Candidate)
	p.mu.Unlock()
	return nil
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return &webrtc.RTPSender{}, nil
}

func (p *fakePC) RemoveTrack(*webrtc.RTPSender) error { return nil }

func (p *fakePC) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *fakePC) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (p *fakePC) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type harness struct {
	ctrl      *Controller
	transport *fakeTransport

	mu  sync.Mutex
	pcs []*fakePC
}

func (h *harness) pc(i int) *fakePC {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pcs[i]
}

func (h *harness) pcCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pcs)
}

func acquireMedia(context.Context) (negotiation.LocalMedia, error) {
	local, err := media.Acquire(media.Options{Audio: true, Video: true})
	if err != nil {
		return nil, err
	}
	return local, nil
}

func newHarness(t *testing.T, transport Transport) *harness {
	t.Helper()
	h := &harness{}
	if ft, ok := transport.(*fakeTransport); ok {
		h.transport = ft
	}
	ctrl, err := NewController(ControllerConfig{
		Transport: transport,
		NewPeerConnection: func() (negotiation.PeerConnection, error) {
			pc := &fakePC{}
			h.mu.Lock()
			h.pcs = append(h.pcs, pc)
			h.mu.Unlock()
			return pc, nil
		},
		AcquireMedia: acquireMedia,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.LeaveRoom() })
	return h
}

func mustHandle(t *testing.T, c *Controller, msg signaling.Message) {
	t.Helper()
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage(%s): %v", msg.Type, err)
	}
}

func enterWithPeer(t *testing.T, h *harness) {
	t.Helper()
	if err := h.ctrl.EnterRoom("a@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeJoin, Email: "a@example.com", Room: "r1", ID: "self"})
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeJoined, ID: "peer"})
}

func offerRaw(t *testing.T, sdp string) []byte {
	t.Helper()
	raw, err := signaling.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		t.Fatalf("EncodeDescription: %v", err)
	}
	return raw
}

func answerRaw(t *testing.T, sdp string) []byte {
	t.Helper()
	raw, err := signaling.EncodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		t.Fatalf("EncodeDescription: %v", err)
	}
	return raw
}

func TestController_EnterRoomSendsJoinAndTracksIdentities(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	enterWithPeer(t, h)

	joins := h.transport.ofType(signaling.MessageTypeJoin)
	if len(joins) != 1 || joins[0].Room != "r1" || joins[0].Email != "a@example.com" {
		t.Fatalf("joins=%+v", joins)
	}
	st := h.ctrl.Status()
	if st.SelfID != "self" || st.PeerID != "peer" || st.Room != "r1" {
		t.Fatalf("status=%+v", st)
	}
	if st.Call != negotiation.StateIdle {
		t.Fatalf("call=%v, want idle", st.Call)
	}
}

func TestController_PlaceCallBeforePeerJoins(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	if err := h.ctrl.PlaceCall(context.Background()); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err=%v, want ErrNotInRoom", err)
	}
	if err := h.ctrl.EnterRoom("a@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	if err := h.ctrl.PlaceCall(context.Background()); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("err=%v, want ErrNoPeer", err)
	}
}

func TestController_OutgoingCallFlow(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	enterWithPeer(t, h)

	if err := h.ctrl.PlaceCall(context.Background()); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	calls := h.transport.ofType(signaling.MessageTypeCall)
	if len(calls) != 1 || calls[0].To != "peer" {
		t.Fatalf("calls=%+v", calls)
	}
	offer, err := signaling.DecodeDescription(calls[0].Offer)
	if err != nil || offer.SDP != "offer-sdp" {
		t.Fatalf("offer=%+v err=%v", offer, err)
	}

	// A candidate that beats the answer is queued, then applied.
	candidate, _ := signaling.EncodeCandidate(webrtc.ICECandidateInit{Candidate: "cand-1"})
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeCandidate, From: "peer", Candidate: candidate})
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeCallAccepted, From: "peer", Ans: answerRaw(t, "remote-answer")})

	if got := h.ctrl.Status().Call; got != negotiation.StateConnecting {
		t.Fatalf("call=%v, want connecting", got)
	}
	pc := h.pc(0)
	pc.mu.Lock()
	remote, cands := pc.remote, pc.candidates
	pc.mu.Unlock()
	if len(remote) != 1 || remote[0] != "remote-answer" {
		t.Fatalf("remote=%v", remote)
	}
	if len(cands) != 1 || cands[0] != "cand-1" {
		t.Fatalf("candidates=%v", cands)
	}
}

func TestController_IncomingCallAcceptAndReject(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		h := newHarness(t, newFakeTransport())
		enterWithPeer(t, h)

		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeIncomingCall, From: "peer", Offer: offerRaw(t, "remote-offer")})
		if got := h.ctrl.Status().Call; got != negotiation.StateRinging {
			t.Fatalf("call=%v, want ringing", got)
		}
		if len(h.transport.ofType(signaling.MessageTypeCallAccepted)) != 0 {
			t.Fatalf("answered before accept")
		}

		if err := h.ctrl.AcceptCall(context.Background()); err != nil {
			t.Fatalf("AcceptCall: %v", err)
		}
		answers := h.transport.ofType(signaling.MessageTypeCallAccepted)
		if len(answers) != 1 || answers[0].To != "peer" {
			t.Fatalf("answers=%+v", answers)
		}
		if got := h.ctrl.Status().Call; got != negotiation.StateConnecting {
			t.Fatalf("call=%v, want connecting", got)
		}
	})

	t.Run("reject", func(t *testing.T) {
		h := newHarness(t, newFakeTransport())
		enterWithPeer(t, h)

		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeIncomingCall, From: "peer", Offer: offerRaw(t, "remote-offer")})
		if err := h.ctrl.RejectCall(); err != nil {
			t.Fatalf("RejectCall: %v", err)
		}
		ends := h.transport.ofType(signaling.MessageTypeEndCall)
		if len(ends) != 1 || ends[0].To != "peer" {
			t.Fatalf("end-call=%+v", ends)
		}
		if got := h.ctrl.Status().Call; got != negotiation.StateIdle {
			t.Fatalf("call=%v, want idle", got)
		}
	})
}

func TestController_ReenteringRoomDiscardsSession(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	enterWithPeer(t, h)
	if err := h.ctrl.PlaceCall(context.Background()); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	first := h.pc(h.pcCount() - 1)

	if err := h.ctrl.EnterRoom("a@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	if !first.isClosed() {
		t.Fatalf("stale peer connection left open")
	}
	if ends := h.transport.ofType(signaling.MessageTypeEndCall); len(ends) != 1 {
		t.Fatalf("end-call=%+v, want 1", ends)
	}
	st := h.ctrl.Status()
	if st.Call != negotiation.StateIdle || st.PeerID != "" {
		t.Fatalf("status=%+v, want fresh idle session", st)
	}
	if last := h.pc(h.pcCount() - 1); last == first || last.isClosed() {
		t.Fatalf("expected a fresh open peer connection")
	}
}

func TestController_RemoteHangupStartsFreshSession(t *testing.T) {
	for _, typ := range []signaling.MessageType{signaling.MessageTypeCallEnded, signaling.MessageTypePeerLeft} {
		t.Run(string(typ), func(t *testing.T) {
			h := newHarness(t, newFakeTransport())
			enterWithPeer(t, h)
			if err := h.ctrl.PlaceCall(context.Background()); err != nil {
				t.Fatalf("PlaceCall: %v", err)
			}
			first := h.pc(h.pcCount() - 1)

			mustHandle(t, h.ctrl, signaling.Message{Type: typ, From: "peer", ID: "peer"})
			if !first.isClosed() {
				t.Fatalf("peer connection not closed")
			}
			if got := h.ctrl.Status().Call; got != negotiation.StateIdle {
				t.Fatalf("call=%v, want idle", got)
			}
			if ends := h.transport.ofType(signaling.MessageTypeEndCall); len(ends) != 0 {
				t.Fatalf("remote hang up echoed end-call: %+v", ends)
			}
		})
	}
}

func TestController_HangUpNotifiesPeer(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	enterWithPeer(t, h)
	if err := h.ctrl.PlaceCall(context.Background()); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if err := h.ctrl.HangUp(); err != nil {
		t.Fatalf("HangUp: %v", err)
	}
	if ends := h.transport.ofType(signaling.MessageTypeEndCall); len(ends) != 1 || ends[0].To != "peer" {
		t.Fatalf("end-call=%+v", ends)
	}
	if got := h.ctrl.Status().Call; got != negotiation.StateIdle {
		t.Fatalf("call=%v, want idle", got)
	}
}

func TestController_CameraToggle(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	enterWithPeer(t, h)

	on, err := h.ctrl.ToggleCamera()
	if err != nil {
		t.Fatalf("ToggleCamera: %v", err)
	}
	if on {
		t.Fatalf("camera on after first toggle")
	}
	toggles := h.transport.ofType(signaling.MessageTypeCameraToggle)
	if len(toggles) != 1 || toggles[0].To != "peer" || toggles[0].From != "self" || toggles[0].On == nil || *toggles[0].On {
		t.Fatalf("toggles=%+v", toggles)
	}

	off := false
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeCameraToggle, From: "peer", On: &off})
	if h.ctrl.Status().RemoteCameraOn {
		t.Fatalf("remote camera still on")
	}

	if h.ctrl.ToggleMic() {
		t.Fatalf("mic on after toggle")
	}
	if len(h.transport.ofType(signaling.MessageTypeCameraToggle)) != 1 {
		t.Fatalf("mic toggle was signaled")
	}
}

func TestController_Chat(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newHarness(t, newFakeTransport())
	h.ctrl.cfg.Now = func() time.Time { return now }

	if err := h.ctrl.SendChat("hi"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err=%v, want ErrNotInRoom", err)
	}
	enterWithPeer(t, h)

	if err := h.ctrl.SendChat("hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	texts := h.transport.ofType(signaling.MessageTypeText)
	if len(texts) != 1 || texts[0].Room != "r1" || texts[0].Sender != "a@example.com" || texts[0].Message != "hello" {
		t.Fatalf("texts=%+v", texts)
	}

	ts := now.Add(time.Minute)
	mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeText, Room: "r1", Sender: "b", Message: "yo", Timestamp: &ts})

	chat := h.ctrl.Chat()
	if len(chat) != 2 {
		t.Fatalf("chat=%+v", chat)
	}
	if !chat[0].Local || chat[0].Content != "hello" || !chat[0].At.Equal(now) {
		t.Fatalf("chat[0]=%+v", chat[0])
	}
	if chat[1].Local || chat[1].Sender != "b" || !chat[1].At.Equal(ts) {
		t.Fatalf("chat[1]=%+v", chat[1])
	}
}

func TestController_ErrorEnvelope(t *testing.T) {
	h := newHarness(t, newFakeTransport())
	err := h.ctrl.HandleMessage(context.Background(), signaling.Message{Type: signaling.MessageTypeError, Code: signaling.ErrorCodeRoomFull, Message: "room is full"})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != signaling.ErrorCodeRoomFull {
		t.Fatalf("err=%v, want RemoteError room_full", err)
	}
}

func TestController_RunStopsWhenTransportCloses(t *testing.T) {
	ft := newFakeTransport()
	h := newHarness(t, ft)
	if err := h.ctrl.EnterRoom("a@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Run(context.Background()) }()

	ft.msgs <- signaling.Message{Type: signaling.MessageTypeJoin, Room: "r1", ID: "self"}
	_ = ft.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("err=%v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if got := h.ctrl.Status().SelfID; got != "self" {
		t.Fatalf("self=%q, want self", got)
	}
}

func TestControllers_CallThroughRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := signaling.NewServer(signaling.Config{Logger: logger})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialHarness := func() *harness {
		tr, err := DialTransport(ctx, wsURL, logger)
		if err != nil {
			t.Fatalf("DialTransport: %v", err)
		}
		t.Cleanup(func() { _ = tr.Close() })
		h := newHarness(t, tr)
		go func() { _ = h.ctrl.Run(ctx) }()
		return h
	}
	caller := dialHarness()
	callee := dialHarness()

	waitFor := func(h *harness, kind EventKind, cond func(Event) bool) Event {
		t.Helper()
		for {
			select {
			case ev := <-h.ctrl.Events():
				if ev.Kind == kind && cond(ev) {
					return ev
				}
			case <-ctx.Done():
				t.Fatalf("timeout waiting for event kind %d", kind)
			}
		}
	}

	if err := caller.ctrl.EnterRoom("caller@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	waitFor(caller, EventStatus, func(ev Event) bool { return ev.Status.SelfID != "" })
	if err := callee.ctrl.EnterRoom("callee@example.com", "r1"); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	waitFor(caller, EventStatus, func(ev Event) bool { return ev.Status.PeerID != "" })

	if err := caller.ctrl.PlaceCall(ctx); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	waitFor(callee, EventIncomingCall, func(Event) bool { return true })
	if err := callee.ctrl.AcceptCall(ctx); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	waitFor(caller, EventStatus, func(ev Event) bool { return ev.Status.Call == negotiation.StateConnecting })

	if err := callee.ctrl.SendChat("hello caller"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	ev := waitFor(caller, EventChat, func(Event) bool { return true })
	if ev.Chat.Sender != "callee@example.com" || ev.Chat.Content != "hello caller" {
		t.Fatalf("chat=%+v", ev.Chat)
	}
}

func TestController_CrossedCallsResolveByConnectionID(t *testing.T) {
	t.Run("greater id yields and rings", func(t *testing.T) {
		h := newHarness(t, newFakeTransport())
		enterWithPeer(t, h)

		if err := h.ctrl.PlaceCall(context.Background()); err != nil {
			t.Fatalf("PlaceCall: %v", err)
		}
		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeIncomingCall, From: "peer", Offer: offerRaw(t, "remote-offer")})
		if got := h.ctrl.Status().Call; got != negotiation.StateRinging {
			t.Fatalf("call=%v, want ringing", got)
		}

		if err := h.ctrl.AcceptCall(context.Background()); err != nil {
			t.Fatalf("AcceptCall: %v", err)
		}
		answers := h.transport.ofType(signaling.MessageTypeCallAccepted)
		if len(answers) != 1 || answers[0].To != "peer" {
			t.Fatalf("answers=%+v", answers)
		}
		if got := h.ctrl.Status().Call; got != negotiation.StateConnecting {
			t.Fatalf("call=%v, want connecting", got)
		}
	})

	t.Run("lesser id keeps its offer", func(t *testing.T) {
		h := newHarness(t, newFakeTransport())
		if err := h.ctrl.EnterRoom("a@example.com", "r1"); err != nil {
			t.Fatalf("EnterRoom: %v", err)
		}
		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeJoin, Email: "a@example.com", Room: "r1", ID: "alpha"})
		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeJoined, ID: "peer"})

		if err := h.ctrl.PlaceCall(context.Background()); err != nil {
			t.Fatalf("PlaceCall: %v", err)
		}
		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeIncomingCall, From: "peer", Offer: offerRaw(t, "remote-offer")})
		if got := h.ctrl.Status().Call; got != negotiation.StateOffering {
			t.Fatalf("call=%v, want offering", got)
		}

		mustHandle(t, h.ctrl, signaling.Message{Type: signaling.MessageTypeCallAccepted, From: "peer", Ans: answerRaw(t, "remote-answer")})
		if got := h.ctrl.Status().Call; got != negotiation.StateConnecting {
			t.Fatalf("call=%v, want connecting", got)
		}
	})
}
