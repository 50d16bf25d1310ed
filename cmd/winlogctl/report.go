package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/winlog-collector/winlog/internal/client"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/output"
)

func newSender() *client.Sender {
	return client.NewSender(client.SenderConfig{
		EventsURL:   cfg.EventsURL(),
		SessionsURL: cfg.SessionsURL(),
		UserAgent:   cfg.Client.UserAgent,
		Token:       cfg.Client.Token,
		Timeout:     cfg.Client.Timeout,
		MaxAttempts: cfg.Client.MaxRetries,
		RetryDelay:  cfg.Client.RetryDelay,
	}, slog.Default())
}

func reportCommand(use, short string, action models.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter := client.NewReporter(client.NewCollector(), newSender())
			ack, err := reporter.Report(cmd.Context(), action)
			if err != nil {
				return fmt.Errorf("failed to report %s: %w", action, err)
			}

			w := cmd.OutOrStdout()
			if done, err := output.Structured(w, cfg.Output, ack); done {
				return err
			}
			output.Success(w, "%s event stored (id %d)", action, ack.EventID)
			if ack.SessionID != "" {
				output.Info(w, "  Session: %s", ack.SessionID)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(
		reportCommand("logon", "Report a session opening on this workstation", models.ActionConnect),
		reportCommand("logout", "Report a session closing on this workstation", models.ActionDisconnect),
		reportCommand("matos", "Report this workstation's hardware inventory", models.ActionHardware),
	)
}
