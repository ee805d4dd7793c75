package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/client"
)

type commandKind int

const (
	cmdChat commandKind = iota
	cmdCall
	cmdAccept
	cmdReject
	cmdHangup
	cmdCamera
	cmdMic
	cmdStatus
	cmdLeave
	cmdJoin
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand interprets one stdin line. Lines that do not start with a
// slash are chat messages.
func parseCommand(line string) (command, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdChat, arg: line}, true, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "call":
		return command{kind: cmdCall}, true, nil
	case "accept":
		return command{kind: cmdAccept}, true, nil
	case "reject":
		return command{kind: cmdReject}, true, nil
	case "hangup":
		return command{kind: cmdHangup}, true, nil
	case "camera":
		return command{kind: cmdCamera}, true, nil
	case "mic":
		return command{kind: cmdMic}, true, nil
	case "status":
		return command{kind: cmdStatus}, true, nil
	case "leave":
		return command{kind: cmdLeave}, true, nil
	case "join":
		if arg == "" {
			return command{}, false, fmt.Errorf("/join needs a room")
		}
		return command{kind: cmdJoin, arg: arg}, true, nil
	default:
		return command{}, false, fmt.Errorf("unknown command /%s", name)
	}
}

func (c command) apply(ctx context.Context, ctrl *client.Controller, name string, out io.Writer) error {
	switch c.kind {
	case cmdChat:
		return ctrl.SendChat(c.arg)
	case cmdCall:
		return ctrl.PlaceCall(ctx)
	case cmdAccept:
		return ctrl.AcceptCall(ctx)
	case cmdReject:
		return ctrl.RejectCall()
	case cmdHangup:
		return ctrl.HangUp()
	case cmdCamera:
		_, err := ctrl.ToggleCamera()
		return err
	case cmdMic:
		ctrl.ToggleMic()
		return nil
	case cmdStatus:
		fmt.Fprintln(out, statusLine(ctrl.Status()))
		return nil
	case cmdLeave:
		return ctrl.LeaveRoom()
	case cmdJoin:
		return ctrl.EnterRoom(name, c.arg)
	}
	return nil
}

// readCommands applies stdin lines until r is exhausted or ctx is done.
func readCommands(ctx context.Context, r io.Reader, ctrl *client.Controller, name string, out io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, ok, err := parseCommand(sc.Text())
		if err == nil && ok {
			err = cmd.apply(ctx, ctrl, name, out)
		}
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("error:"), err)
		}
	}
}
