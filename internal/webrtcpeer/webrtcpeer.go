package webrtcpeer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// DefaultPLIInterval is how often a keyframe is requested from the remote
// video sender. New receivers get a picture without waiting for the sender's
// next natural keyframe.
const DefaultPLIInterval = 3 * time.Second

// NewAPI builds the pion API used by room peers: default codecs, the default
// interceptor chain plus periodic PLI, and pion logs routed into logger.
func NewAPI(logger *slog.Logger) (*webrtc.API, error) {
	return NewAPIWithSettings(webrtc.SettingEngine{}, logger)
}

// NewAPIWithSettings is NewAPI with a caller-prepared SettingEngine, e.g. one
// bound to a virtual network in tests.
func NewAPIWithSettings(se webrtc.SettingEngine, logger *slog.Logger) (*webrtc.API, error) {
	if logger != nil {
		se.LoggerFactory = SlogLoggerFactory{Logger: logger}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(DefaultPLIInterval))
	if err != nil {
		return nil, fmt.Errorf("new interval pli interceptor: %w", err)
	}
	registry.Add(pli)

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
