package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/chatlog"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/client"
)

var (
	primary = lipgloss.Color("#7D56F4")
	muted   = lipgloss.Color("#8A8A8A")

	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	senderStyle = lipgloss.NewStyle().Foreground(primary).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(primary).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	altStyle    = cellStyle.Foreground(muted)
)

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func statusLine(st client.Status) string {
	peer := st.PeerID
	if peer == "" {
		peer = "-"
	}
	call := st.Call.String()
	if st.Negotiating {
		call += "+negotiating"
	}
	return mutedStyle.Render(fmt.Sprintf("room=%s self=%s peer=%s call=%s camera=%s mic=%s remote_camera=%s",
		st.Room, st.SelfID, peer, call, onOff(st.CameraOn), onOff(st.MicOn), onOff(st.RemoteCameraOn)))
}

func chatLine(msg client.ChatMessage) string {
	sender := msg.Sender
	if msg.Local {
		sender = "you"
	}
	return fmt.Sprintf("%s %s %s",
		mutedStyle.Render(msg.At.Local().Format(time.Kitchen)),
		senderStyle.Render(sender+":"),
		msg.Content)
}

func historyTable(msgs []chatlog.Message) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages")
	}

	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []string{
			m.CreatedAt.UTC().Format(time.RFC3339),
			truncate(m.Sender, 24),
			truncate(strings.ReplaceAll(m.Content, "\n", " "), 60),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primary)).
		Headers("Time", "Sender", "Message").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return altStyle
			}
		}).
		Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
