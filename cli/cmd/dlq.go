package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/internal/client"
	"github.com/convohook/convohook/cli/pkg/output"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered deliveries",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead-lettered deliveries, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := c.DeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		return output.Print(outputFormat(cmd), entries, func() {
			if len(entries) == 0 {
				output.Info("No dead-lettered deliveries")
				return
			}
			table := output.NewTable([]string{"Job ID", "Event", "Instance", "Kind", "Replays", "Failed At", "Error"})
			for _, e := range entries {
				table.AddRow([]string{
					e.JobID,
					e.EventKind,
					e.InstanceID,
					e.Error.Kind,
					strconv.Itoa(e.Replays),
					e.FailedAt.Local().Format(timeLayout),
					output.Truncate(e.Error.Message, 60),
				})
			}
			table.Render()
		})
	},
}

var dlqShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a dead-lettered delivery with its failure trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		entry, err := c.DeadLetter(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get dead letter: %w", err)
		}

		return output.Print(outputFormat(cmd), entry, func() {
			printJob(&entry.Job)
			output.Info("Failed:    %s (replays: %d)", entry.FailedAt.Local().Format(timeLayout), entry.Replays)
			output.Error("%s: %s", entry.Error.Kind, entry.Error.Message)
			if entry.Error.Trace != "" {
				output.Info("Trace:")
				fmt.Println(entry.Error.Trace)
			}
			output.Info("Payload:")
			fmt.Println(string(entry.Payload))
		})
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay [id...]",
	Short: "Re-run dead-lettered deliveries",
	Long: `Move each delivery back to the queue and process it again. Messages that
were already stored are skipped, so replaying is safe to repeat. A delivery
that fails again returns to the dead-letter store with its replay count raised.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		failed := 0
		for _, id := range args {
			res, err := c.Replay(cmd.Context(), id)
			if err != nil {
				failed++
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Code == "processing_failed" {
					output.Error("%s failed again: %s", id, apiErr.Message)
					continue
				}
				output.Error("%s: %v", id, err)
				continue
			}
			switch {
			case res.Ignored:
				output.Success("%s replayed (ignored %s)", id, res.EventKind)
			case res.Updated > 0:
				output.Success("%s replayed (%d updated)", id, res.Updated)
			default:
				output.Success("%s replayed (%d processed, %d skipped)", id, res.Processed, res.Skipped)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d replays failed", failed, len(args))
		}
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge [id...]",
	Short: "Permanently delete dead-lettered deliveries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if force, _ := cmd.Flags().GetBool("force"); !force {
			return fmt.Errorf("purge deletes deliveries for good; pass --force to confirm")
		}

		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		for _, id := range args {
			if err := c.Purge(cmd.Context(), id); err != nil {
				if errors.Is(err, client.ErrNotFound) {
					output.Warn("%s not found", id)
					continue
				}
				return fmt.Errorf("failed to purge %s: %w", id, err)
			}
			output.Success("%s purged", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd, dlqShowCmd, dlqReplayCmd, dlqPurgeCmd)

	dlqListCmd.Flags().Int("limit", 50, "maximum number of entries to list")
	dlqPurgeCmd.Flags().Bool("force", false, "confirm permanent deletion")
}
