package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/chatlog"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/room"
)

// Endpoint delivers envelopes to one connected client. Send must be safe for
// concurrent use.
type Endpoint interface {
	Send(msg Message) error
}

// Recorder accepts chat messages for persistence without blocking.
type Recorder interface {
	Record(msg chatlog.Message) bool
}

// RoutingError reports an envelope the relay refused to forward. The sender
// has already been told through an error envelope.
type RoutingError struct {
	Code string
	Type MessageType
	To   string
}

func (e *RoutingError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("route %s: %s", e.Type, e.Code)
	}
	return fmt.Sprintf("route %s to %q: %s", e.Type, e.To, e.Code)
}

type RelayConfig struct {
	Registry *room.Registry
	// Recorder is optional; without it chat is relayed but not persisted.
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Relay routes envelopes between attached connections according to room
// membership.
type Relay struct {
	registry *room.Registry
	recorder Recorder
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	// memberMu orders each membership change with the notifications it
	// produces, so a peer never sees peer:left before the matching
	// user:joined.
	memberMu sync.Mutex

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	labels    map[string]string
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Registry == nil {
		cfg.Registry = room.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Relay{
		registry:  cfg.Registry,
		recorder:  cfg.Recorder,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		now:       cfg.Now,
		endpoints: make(map[string]Endpoint),
		labels:    make(map[string]string),
	}
}

func (r *Relay) Attach(conn string, ep Endpoint) {
	r.mu.Lock()
	r.endpoints[conn] = ep
	r.mu.Unlock()
}

// Detach is called when conn's transport closes. The connection leaves its
// room and the remaining member is told.
func (r *Relay) Detach(conn string) {
	r.memberMu.Lock()
	r.leaveLocked(conn)
	r.memberMu.Unlock()

	r.mu.Lock()
	delete(r.endpoints, conn)
	delete(r.labels, conn)
	r.mu.Unlock()
}

// Handle processes one envelope from conn. A non-nil error means the
// envelope was rejected and the sender was sent an error envelope; the
// connection stays usable.
func (r *Relay) Handle(conn string, msg Message) error {
	switch {
	case msg.Type == MessageTypeJoin:
		return r.join(conn, msg)
	case msg.Type == MessageTypeLeave:
		r.memberMu.Lock()
		r.leaveLocked(conn)
		r.memberMu.Unlock()
		return nil
	case msg.Type == MessageTypeText:
		return r.chat(conn, msg)
	case msg.Type == MessageTypeIncomingCall, msg.Type == MessageTypeNegoFinal, msg.Type == MessageTypeCallEnded:
		return r.reject(conn, msg.Type, "", ErrorCodeUnexpected, fmt.Sprintf("%s is sent by the relay", msg.Type))
	case msg.Type.directed():
		return r.forward(conn, msg)
	default:
		return r.reject(conn, msg.Type, "", ErrorCodeUnexpected, fmt.Sprintf("unexpected message type %q", msg.Type))
	}
}

func (r *Relay) join(conn string, msg Message) error {
	r.memberMu.Lock()
	defer r.memberMu.Unlock()

	if current, ok := r.registry.Resolve(conn); ok && current != msg.Room {
		r.leaveLocked(conn)
	}

	res, err := r.registry.Join(conn, msg.Room)
	if err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			r.metrics.Inc(metrics.RoomFull)
			r.log.Info("room full", "conn_id", conn, "room", msg.Room)
			return r.reject(conn, msg.Type, "", ErrorCodeRoomFull, "room is full")
		}
		return r.reject(conn, msg.Type, "", ErrorCodeBadMessage, err.Error())
	}

	r.mu.Lock()
	r.labels[conn] = msg.Email
	r.mu.Unlock()

	if !res.Rejoined {
		r.metrics.Inc(metrics.RoomJoined)
		r.log.Info("joined room", "conn_id", conn, "room", msg.Room, "role", res.Role.String())
	}
	r.deliver(conn, Message{Type: MessageTypeJoin, Email: msg.Email, Room: msg.Room, ID: conn})

	if res.Peer == "" {
		return nil
	}
	r.deliver(conn, Message{Type: MessageTypeJoined, ID: res.Peer})
	if !res.Rejoined {
		r.deliver(res.Peer, Message{Type: MessageTypeJoined, ID: conn})
	}
	return nil
}

// leaveLocked must be called with memberMu held.
func (r *Relay) leaveLocked(conn string) {
	res, ok := r.registry.Leave(conn)
	if !ok {
		return
	}
	r.metrics.Inc(metrics.RoomLeft)
	r.log.Info("left room", "conn_id", conn, "room", res.Room)
	for _, member := range res.Remaining {
		if r.deliver(member, Message{Type: MessageTypePeerLeft, ID: conn}) {
			r.metrics.Inc(metrics.PeerLeftSent)
		}
	}
}

func (r *Relay) forward(conn string, msg Message) error {
	if _, ok := r.registry.Resolve(conn); !ok {
		return r.reject(conn, msg.Type, msg.To, ErrorCodeNotInRoom, "join a room first")
	}
	peer, ok := r.registry.Peer(conn)
	if !ok || msg.To == "" || msg.To != peer {
		return r.reject(conn, msg.Type, msg.To, ErrorCodePeerNotFound, "peer not found in room")
	}

	out := msg
	out.Type = forwardedType(msg.Type)
	out.To = ""
	out.From = conn
	if !r.deliver(peer, out) {
		return r.reject(conn, msg.Type, msg.To, ErrorCodePeerNotFound, "peer unreachable")
	}
	r.metrics.Inc(metrics.MessageRelayed)
	return nil
}

func (r *Relay) chat(conn string, msg Message) error {
	roomID, ok := r.registry.Resolve(conn)
	if !ok {
		return r.reject(conn, msg.Type, "", ErrorCodeNotInRoom, "join a room first")
	}
	if msg.Room != "" && msg.Room != roomID {
		return r.reject(conn, msg.Type, "", ErrorCodeRoomMismatch, "message room does not match joined room")
	}

	sender := msg.Sender
	if sender == "" {
		r.mu.RLock()
		sender = r.labels[conn]
		r.mu.RUnlock()
	}
	if sender == "" {
		sender = conn
	}
	now := r.now().UTC()

	out := Message{
		Type:      MessageTypeText,
		Room:      roomID,
		From:      conn,
		Sender:    sender,
		Message:   msg.Message,
		Timestamp: &now,
	}
	for _, member := range r.registry.Members(roomID) {
		if member == conn {
			continue
		}
		if r.deliver(member, out) {
			r.metrics.Inc(metrics.MessageRelayed)
		}
	}

	if r.recorder != nil {
		r.recorder.Record(chatlog.Message{
			Room:      roomID,
			Sender:    sender,
			Content:   msg.Message,
			CreatedAt: now,
		})
	}
	return nil
}

func (r *Relay) reject(conn string, typ MessageType, to, code, message string) error {
	if code != ErrorCodeRoomFull {
		r.metrics.Inc(metrics.RoutingError)
	}
	r.deliver(conn, Message{Type: MessageTypeError, Code: code, Message: message})
	return &RoutingError{Code: code, Type: typ, To: to}
}

func (r *Relay) deliver(conn string, msg Message) bool {
	r.mu.RLock()
	ep := r.endpoints[conn]
	r.mu.RUnlock()
	if ep == nil {
		return false
	}
	if err := ep.Send(msg); err != nil {
		r.log.Debug("failed to deliver message", "conn_id", conn, "type", string(msg.Type), "err", err)
		return false
	}
	return true
}
