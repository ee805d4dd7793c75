package room

import (
	"errors"
	"slices"
	"sync"
)

// Capacity is the maximum number of members in a room.
const Capacity = 2

var (
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyInRoom     = errors.New("connection already joined another room")
	ErrInvalidRoom       = errors.New("room id must not be empty")
	ErrInvalidConnection = errors.New("connection id must not be empty")
)

type Role int

const (
	RoleFirst Role = iota + 1
	RoleSecond
)

func (r Role) String() string {
	switch r {
	case RoleFirst:
		return "first"
	case RoleSecond:
		return "second"
	default:
		return "unknown"
	}
}

type JoinResult struct {
	Role Role
	// Peer is the other member, empty while the joiner waits alone.
	Peer string
	// Rejoined is set when the connection was already a member of the room.
	Rejoined bool
}

type LeaveResult struct {
	Room      string
	Remaining []string
}

// Registry maps connections to rooms and rooms to their ordered members. It
// is the only owner of room membership.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]string
	rooms  map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		rooms:  make(map[string][]string),
	}
}

func (r *Registry) Join(conn, room string) (JoinResult, error) {
	if conn == "" {
		return JoinResult{}, ErrInvalidConnection
	}
	if room == "" {
		return JoinResult{}, ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byConn[conn]; ok {
		if current != room {
			return JoinResult{}, ErrAlreadyInRoom
		}
		members := r.rooms[room]
		idx := slices.Index(members, conn)
		return JoinResult{
			Role:     Role(idx + 1),
			Peer:     otherMember(members, conn),
			Rejoined: true,
		}, nil
	}

	members := r.rooms[room]
	if len(members) >= Capacity {
		return JoinResult{}, ErrRoomFull
	}

	res := JoinResult{Role: RoleFirst}
	if len(members) > 0 {
		res.Role = RoleSecond
		res.Peer = members[0]
	}
	r.rooms[room] = append(members, conn)
	r.byConn[conn] = room
	return res, nil
}

// Leave removes conn from its room. The room is dropped once empty.
func (r *Registry) Leave(conn string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byConn[conn]
	if !ok {
		return LeaveResult{}, false
	}
	delete(r.byConn, conn)

	remaining := slices.DeleteFunc(slices.Clone(r.rooms[room]), func(m string) bool { return m == conn })
	if len(remaining) == 0 {
		delete(r.rooms, room)
	} else {
		r.rooms[room] = remaining
	}
	return LeaveResult{Room: room, Remaining: slices.Clone(remaining)}, true
}

func (r *Registry) Resolve(conn string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byConn[conn]
	return room, ok
}

// Peer returns the other member of conn's room.
func (r *Registry) Peer(conn string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	peer := otherMember(r.rooms[room], conn)
	return peer, peer != ""
}

func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rooms[room])
}

func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func otherMember(members []string, conn string) string {
	for _, m := range members {
		if m != conn {
			return m
		}
	}
	return ""
}
