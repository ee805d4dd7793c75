package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-relay/internal/chatlog"
)

const envVarChatDatabaseURL = "CHAT_DATABASE_URL"

func newHistoryCmd() *cobra.Command {
	var (
		databaseURL string
		limit       int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history <room>",
		Short: "Print the persisted chat history of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv(envVarChatDatabaseURL)
			}
			if databaseURL == "" {
				return errors.New("--database-url or " + envVarChatDatabaseURL + " is required")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := chatlog.OpenPostgres(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), historyTable(msgs))
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres URL of the chat store (env "+envVarChatDatabaseURL+")")
	cmd.Flags().IntVar(&limit, "limit", 50, "Most recent messages to show")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Query timeout")
	return cmd
}
