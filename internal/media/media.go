// Package media provides the local audio/video tracks a headless room peer
// sends. There is no capture device; tracks carry a synthetic stream so the
// remote side sees media flowing and the negotiation path is exercised end to
// end.
package media

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	DefaultStreamID = "aero-room-peer"

	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// ErrNoTracks is returned when neither audio nor video was requested.
var ErrNoTracks = errors.New("no media tracks requested")

var (
	// An Opus TOC byte for a 20ms silent frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// A tiny VP8 payload. Receivers can't decode it as a picture but it keeps
	// RTP flowing so the remote track fires.
	vp8Filler = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

type Options struct {
	Audio    bool
	Video    bool
	StreamID string
}

// Local is a set of synthetic local tracks. Disabling a kind pauses its
// sample writer without touching the transceivers, so toggling never needs
// a renegotiation.
type Local struct {
	mu      sync.Mutex
	tracks  map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticSample
	enabled map[webrtc.RTPCodecType]bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Acquire creates the requested tracks and starts writing samples.
func Acquire(opts Options) (*Local, error) {
	if !opts.Audio && !opts.Video {
		return nil, ErrNoTracks
	}
	if opts.StreamID == "" {
		opts.StreamID = DefaultStreamID
	}

	l := &Local{
		tracks:  make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticSample),
		enabled: make(map[webrtc.RTPCodecType]bool),
		stop:    make(chan struct{}),
	}

	if opts.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", opts.StreamID,
		)
		if err != nil {
			return nil, err
		}
		l.tracks[webrtc.RTPCodecTypeAudio] = track
		l.enabled[webrtc.RTPCodecTypeAudio] = true
	}
	if opts.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", opts.StreamID,
		)
		if err != nil {
			return nil, err
		}
		l.tracks[webrtc.RTPCodecTypeVideo] = track
		l.enabled[webrtc.RTPCodecTypeVideo] = true
	}

	for kind, track := range l.tracks {
		interval, payload := audioFrameInterval, opusSilence
		if kind == webrtc.RTPCodecTypeVideo {
			interval, payload = videoFrameInterval, vp8Filler
		}
		l.wg.Add(1)
		go l.write(kind, track, interval, payload)
	}
	return l, nil
}

// Tracks returns audio before video.
func (l *Local) Tracks() []webrtc.TrackLocal {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if t, ok := l.tracks[kind]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled pauses or resumes one kind and reports whether such a track
// exists.
func (l *Local) SetEnabled(kind webrtc.RTPCodecType, on bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tracks[kind]; !ok {
		return false
	}
	l.enabled[kind] = on
	return true
}

func (l *Local) Enabled(kind webrtc.RTPCodecType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled[kind]
}

// Stop ends all sample writers. It is safe to call more than once.
func (l *Local) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

func (l *Local) write(kind webrtc.RTPCodecType, track *webrtc.TrackLocalStaticSample, interval time.Duration, payload []byte) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		if !l.Enabled(kind) {
			continue
		}
		// Writes before the track is bound to a sender are no-ops.
		_ = track.WriteSample(pionmedia.Sample{Data: payload, Duration: interval})
	}
}
