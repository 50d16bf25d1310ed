package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/winlog-collector/winlog/internal/config"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/output"
	"github.com/winlog-collector/winlog/internal/repository"
)

// openRepository connects to the event store; tests substitute it.
var openRepository = func(ctx context.Context, c *config.CLIConfig) (repository.Repository, error) {
	return repository.NewPostgresRepository(ctx, c.Database.ConnString(), repository.DefaultPostgresOptions())
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every stored event",
	Long: `Delete every event from the collector's database. The schema is kept.

A summary of the stored events is printed first and the confirmation word
must be typed unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		repo, err := openRepository(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer repo.Close()

		counts, err := repo.CountByAction(ctx)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}

		var total int64
		table := output.NewTable([]string{"ACTION", "EVENTS"})
		for _, a := range models.Actions {
			total += counts[a]
			table.AddRow([]string{fmt.Sprintf("%s (%s)", string(a), a.String()), fmt.Sprintf("%d", counts[a])})
		}
		table.Render(w)
		output.Info(w, "Total: %d event(s)", total)

		if total == 0 {
			output.Info(w, "Nothing to purge")
			return nil
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			word := cfg.Admin.ConfirmWord
			output.Warn(w, "This permanently deletes %d event(s). Type %s to confirm:", total, word)
			line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.TrimSpace(line) != word {
				output.Info(w, "Purge cancelled")
				return nil
			}
		}

		deleted, err := repo.Purge(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge events: %w", err)
		}
		output.Success(w, "Purged %d event(s)", deleted)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(purgeCmd)
}
