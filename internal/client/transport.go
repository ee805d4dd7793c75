package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/signaling"
)

const (
	transportWriteWait = 5 * time.Second
	transportQueueSize = 64
)

var ErrTransportClosed = errors.New("transport closed")

// Transport carries signaling envelopes to and from the relay. Messages is
// closed when the underlying connection goes away.
type Transport interface {
	Send(msg signaling.Message) error
	Messages() <-chan signaling.Message
	Close() error
}

// WSTransport is a Transport over the relay's /ws endpoint.
type WSTransport struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	msgs      chan signaling.Message
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

var _ Transport = (*WSTransport)(nil)

func DialTransport(ctx context.Context, url string, logger *slog.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, fmt.Errorf("dial %s: unexpected status %d", url, resp.StatusCode)
	}
	return newWSTransport(conn, logger), nil
}

func newWSTransport(conn *websocket.Conn, logger *slog.Logger) *WSTransport {
	t := &WSTransport{
		conn: conn,
		log:  logger,
		msgs: make(chan signaling.Message, transportQueueSize),
		done: make(chan struct{}),
	}
	go t.readPump()
	return t
}

func (t *WSTransport) readPump() {
	defer close(t.msgs)
	defer t.Close()

	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				t.log.Info("relay closed connection", "code", ce.Code, "reason", ce.Text)
			}
			t.setErr(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := signaling.ParseMessage(data)
		if err != nil {
			t.log.Warn("dropping malformed signaling message", "err", err)
			continue
		}
		select {
		case t.msgs <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) Send(msg signaling.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Messages() <-chan signaling.Message { return t.msgs }

// Err returns the error that ended the read pump, if any.
func (t *WSTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WSTransport) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
}

// Close sends a normal closure frame and tears the connection down. It is
// safe to call more than once.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = t.conn.Close()
	})
	return nil
}
