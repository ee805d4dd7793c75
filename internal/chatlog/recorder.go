package chatlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/metrics"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 2 * time.Second
	errorBacklog        = 16
)

type RecorderConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Recorder appends messages to a Store on a background worker. Record never
// blocks the caller; when the queue is full the message is dropped. Append
// failures are logged, counted and published on Errors, never retried.
type Recorder struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	errs chan error
	done chan struct{}
}

func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Recorder{
		store:   store,
		timeout: cfg.WriteTimeout,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		queue:   make(chan Message, cfg.QueueSize),
		errs:    make(chan error, errorBacklog),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record schedules msg for persistence and reports whether it was queued.
func (r *Recorder) Record(msg Message) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.Inc(metrics.ChatPersistDrop)
		return false
	}

	select {
	case r.queue <- msg:
		return true
	default:
		r.metrics.Inc(metrics.ChatPersistDrop)
		r.log.Warn("chat persistence queue full, dropping message", "room", msg.Room)
		return false
	}
}

// Errors delivers *PersistenceError values. Errors are dropped when nobody
// drains the channel.
func (r *Recorder) Errors() <-chan error {
	return r.errs
}

// Close stops accepting messages and waits for queued ones to be written.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for msg := range r.queue {
		r.persist(msg)
	}
}

func (r *Recorder) persist(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	err := r.store.Append(ctx, msg)
	cancel()

	if err == nil {
		r.metrics.Inc(metrics.ChatPersisted)
		return
	}

	r.metrics.Inc(metrics.ChatPersistFailed)
	r.log.Error("chat persistence failed", "room", msg.Room, "err", err)

	select {
	case r.errs <- &PersistenceError{Message: msg, Err: err}:
	default:
	}
}
