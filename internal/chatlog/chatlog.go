// Package chatlog persists room chat messages. Persistence is best effort:
// the relay hands messages to a Recorder which appends them off the hot path
// and reports failures on its own channel.
package chatlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultHistoryLimit bounds History when the caller passes limit <= 0.
const DefaultHistoryLimit = 100

var ErrInvalidMessage = errors.New("invalid chat message")

// Message is one persisted chat line. Messages are append-only.
type Message struct {
	Room      string
	Sender    string
	Content   string
	CreatedAt time.Time
}

func (m Message) Validate() error {
	if m.Room == "" {
		return fmt.Errorf("%w: missing room", ErrInvalidMessage)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: missing content", ErrInvalidMessage)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMessage)
	}
	return nil
}

type Store interface {
	Append(ctx context.Context, msg Message) error
	// History returns up to limit of the most recent messages of a room,
	// oldest first.
	History(ctx context.Context, room string, limit int) ([]Message, error)
}

// PersistenceError reports a message that could not be stored.
type PersistenceError struct {
	Message Message
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist chat message for room %q: %v", e.Message.Room, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
