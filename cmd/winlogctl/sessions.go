package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/winlog-collector/winlog/internal/output"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List open sessions",
	Long:  "Display every session the collector currently considers open, ordered by hostname.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := newSender().CurrentSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		w := cmd.OutOrStdout()
		if done, err := output.Structured(w, cfg.Output, sessions); done {
			return err
		}

		if len(sessions) == 0 {
			output.Info(w, "No open sessions")
			return nil
		}

		table := output.NewTable([]string{"HOSTNAME", "USERNAME", "CONNECTED AT", "SOURCE IP", "OS", "SESSION"})
		for _, s := range sessions {
			table.AddRow([]string{
				s.Hostname,
				s.Username,
				s.ConnectedAt.Format("2006-01-02 15:04:05"),
				s.SourceIP,
				s.OSName,
				s.SessionID,
			})
		}
		table.Render(w)
		output.Info(w, "\n%d open session(s)", len(sessions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
