package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/webrtcpeer"
)

type joinOptions struct {
	peer     config.PeerOptions
	call     bool
	accept   bool
	say      string
	duration time.Duration
	noStdin  bool
}

func newJoinCmd() *cobra.Command {
	var opts joinOptions
	cmd := &cobra.Command{
		Use:   "join [room]",
		Short: "Join a room and take part in a call",
		Long: `Join a room on the relay as a headless peer with synthetic audio and video.

Lines typed on stdin are sent as chat. Commands: /call /accept /reject
/hangup /camera /mic /status /leave /join <room>.

Examples:
  aero-room-peer join standup --call
  aero-room-peer join standup --server wss://relay.example.com/ws --no-video`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.peer.Room = args[0]
			}
			return runJoin(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.peer.ConfigPath, "config", "", "TOML config file with a [peer] section")
	f.StringVar(&opts.peer.ServerURL, "server", "", "Relay WebSocket URL (default "+config.DefaultPeerServerURL+")")
	f.StringVar(&opts.peer.Room, "room", "", "Room to join")
	f.StringVar(&opts.peer.Name, "name", "", "Display name or email sent with room:join")
	f.StringVar(&opts.peer.STUNURLs, "stun-urls", "", "Comma-separated STUN URLs")
	f.DurationVar(&opts.peer.AnswerTimeout, "answer-timeout", 0, "How long an outgoing call waits for an answer")
	f.BoolVar(&opts.peer.NoAudio, "no-audio", false, "Do not send audio")
	f.BoolVar(&opts.peer.NoVideo, "no-video", false, "Do not send video")
	f.StringVar(&opts.peer.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.BoolVar(&opts.call, "call", false, "Call the other peer as soon as it joins")
	f.BoolVar(&opts.accept, "accept", true, "Accept incoming calls (false rejects them)")
	f.StringVar(&opts.say, "say", "", "Chat message to send once a peer is present")
	f.DurationVar(&opts.duration, "duration", 0, "Hang up and exit after this long (0 runs until interrupted)")
	f.BoolVar(&opts.noStdin, "no-stdin", false, "Do not read chat and commands from stdin")
	return cmd
}

func runJoin(parent context.Context, opts joinOptions, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadPeer(opts.peer)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	api, err := webrtcpeer.NewAPI(logger)
	if err != nil {
		return fmt.Errorf("configure webrtc: %w", err)
	}

	transport, err := client.DialTransport(ctx, cfg.ServerURL, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	ctrl, err := client.NewController(client.ControllerConfig{
		Transport: transport,
		NewPeerConnection: func() (negotiation.PeerConnection, error) {
			pc, err := webrtcpeer.NewPeerConnection(api, cfg.ICEServers)
			if err != nil {
				return nil, err
			}
			return pc, nil
		},
		AcquireMedia: func(context.Context) (negotiation.LocalMedia, error) {
			local, err := media.Acquire(media.Options{Audio: cfg.Audio, Video: cfg.Video})
			if err != nil {
				return nil, err
			}
			return local, nil
		},
		AnswerTimeout: cfg.AnswerTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if err := ctrl.EnterRoom(cfg.Name, cfg.Room); err != nil {
		return err
	}
	fmt.Fprintf(out, "joining %s as %s via %s\n", cfg.Room, cfg.Name, cfg.ServerURL)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()
	if !opts.noStdin {
		go readCommands(ctx, in, ctrl, cfg.Name, out)
	}

	err = handleEvents(ctx, ctrl, opts, logger, out, runErr)

	if herr := ctrl.HangUp(); herr != nil && !errors.Is(herr, client.ErrNotInRoom) {
		logger.Debug("hang up on exit failed", "err", herr)
	}
	_ = ctrl.LeaveRoom()
	return err
}

func handleEvents(ctx context.Context, ctrl *client.Controller, opts joinOptions, logger *slog.Logger, out io.Writer, runErr <-chan error) error {
	var (
		called  bool
		said    bool
		packets atomic.Uint64
		last    string
	)
	defer func() {
		if n := packets.Load(); n > 0 {
			fmt.Fprintf(out, "received %d rtp packets\n", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		case ev := <-ctrl.Events():
			switch ev.Kind {
			case client.EventStatus:
				if line := statusLine(ev.Status); line != last {
					fmt.Fprintln(out, line)
					last = line
				}
				if ev.Status.PeerID == "" {
					called, said = false, false
					continue
				}
				if opts.say != "" && !said {
					said = true
					if err := ctrl.SendChat(opts.say); err != nil {
						logger.Warn("failed to send chat", "err", err)
					}
				}
				if opts.call && !called && ev.Status.Call == negotiation.StateIdle {
					called = true
					go func() {
						if err := ctrl.PlaceCall(ctx); err != nil {
							logger.Warn("failed to place call", "err", err)
						}
					}()
				}

			case client.EventIncomingCall:
				fmt.Fprintf(out, "incoming call from %s\n", ev.Status.PeerID)
				go func() {
					var err error
					if opts.accept {
						err = ctrl.AcceptCall(ctx)
					} else {
						err = ctrl.RejectCall()
					}
					if err != nil {
						logger.Warn("failed to answer incoming call", "err", err)
					}
				}()

			case client.EventRemoteTrack:
				if ev.Track != nil {
					fmt.Fprintf(out, "receiving %s (%s)\n", ev.Track.Kind(), ev.Track.Codec().MimeType)
					go drainTrack(ev.Track, &packets)
				}

			case client.EventChat:
				fmt.Fprintln(out, chatLine(ev.Chat))

			case client.EventError:
				fmt.Fprintln(out, errorStyle.Render("error:"), ev.Err)
			}
		}
	}
}

func drainTrack(track *webrtc.TrackRemote, packets *atomic.Uint64) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
		packets.Add(1)
	}
}
