package negotiation_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/webrtcpeer"
)

// loopback delivers one side's signaling to the other session in order, the
// way the relay would.
type loopback struct {
	self   string
	remote func() *negotiation.Session
	queue  chan func()
}

func newLoopback(t *testing.T, self string) *loopback {
	l := &loopback{self: self, queue: make(chan func(), 64)}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case f := <-l.queue:
				f()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
	return l
}

func (l *loopback) SendOffer(_ string, desc webrtc.SessionDescription, renegotiation bool) error {
	l.queue <- func() {
		ctx := context.Background()
		if renegotiation {
			_ = l.remote().ReceiveRenegotiationOffer(ctx, l.self, desc)
			return
		}
		if err := l.remote().ReceiveOffer(l.self, desc); err == nil {
			_ = l.remote().AcceptCall(ctx)
		}
	}
	return nil
}

func (l *loopback) SendAnswer(_ string, desc webrtc.SessionDescription, renegotiation bool) error {
	l.queue <- func() {
		if renegotiation {
			_ = l.remote().ReceiveRenegotiationAnswer(context.Background(), desc)
			return
		}
		_ = l.remote().ReceiveAnswer(desc)
	}
	return nil
}

func (l *loopback) SendCandidate(_ string, c webrtc.ICECandidateInit) error {
	l.queue <- func() { l.remote().ReceiveCandidate(c) }
	return nil
}

func (l *loopback) SendHangup(string) error {
	l.queue <- func() { l.remote().RemoteHangup() }
	return nil
}

func TestSession_TwoPeersConnectOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	newSession := func(ip, self string, sig *loopback) *negotiation.Session {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			t.Fatalf("new net %s: %v", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net %s: %v", ip, err)
		}
		se := webrtc.SettingEngine{}
		se.SetNet(n)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		api, err := webrtcpeer.NewAPIWithSettings(se, logger)
		if err != nil {
			t.Fatalf("new api: %v", err)
		}

		s, err := negotiation.NewSession(negotiation.Config{
			NewPeerConnection: func() (negotiation.PeerConnection, error) {
				pc, err := webrtcpeer.NewPeerConnection(api, nil)
				if err != nil {
					return nil, err
				}
				return pc, nil
			},
			AcquireMedia: func(context.Context) (negotiation.LocalMedia, error) {
				m, err := media.Acquire(media.Options{Audio: true, Video: true, StreamID: self})
				if err != nil {
					return nil, err
				}
				return m, nil
			},
			Signaler: sig,
			Logger:   logger,
		})
		if err != nil {
			t.Fatalf("new session %s: %v", self, err)
		}
		t.Cleanup(func() { _ = s.Hangup() })
		return s
	}

	sigA := newLoopback(t, "a")
	sigB := newLoopback(t, "b")
	a := newSession("10.0.0.1", "a", sigA)
	b := newSession("10.0.0.2", "b", sigB)
	sigA.remote = func() *negotiation.Session { return b }
	sigB.remote = func() *negotiation.Session { return a }

	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	if err := a.PlaceCall(context.Background(), "b"); err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for a.State() != negotiation.StateConnected || b.State() != negotiation.StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for connection: a=%s b=%s", a.State(), b.State())
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := a.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for b.State() != negotiation.StateEnded {
		if time.Now().After(deadline) {
			t.Fatalf("remote side did not end: %s", b.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
