// Command aero-room-peer is a headless participant for the room relay. It
// joins a room, places or answers a call with synthetic audio and video, and
// relays chat typed on stdin.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var buildVersion = ""

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aero-room-peer",
		Short:         "Headless peer for the aero WebRTC room relay",
		Version:       resolveVersion(buildVersion),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newJoinCmd(), newHistoryCmd())
	return root
}

func resolveVersion(v string) string {
	if v != "" {
		return v
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "dev"
}
