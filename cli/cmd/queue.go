package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/internal/client"
	"github.com/convohook/convohook/cli/pkg/output"
)

const timeLayout = "2006-01-02 15:04:05"

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the durable job queue",
}

var queuePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List jobs that were accepted but never acked",
	Long: `List jobs still in the pending list, oldest first. A job stays pending
only when the service stopped between accepting and finishing a delivery.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := c.Pending(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list pending jobs: %w", err)
		}

		return output.Print(outputFormat(cmd), jobs, func() {
			if len(jobs) == 0 {
				output.Info("No pending jobs")
				return
			}
			renderJobs(jobs)
		})
	},
}

var queueJobCmd = &cobra.Command{
	Use:   "job [id]",
	Short: "Show one queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		job, err := c.Job(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		return output.Print(outputFormat(cmd), job, func() {
			printJob(job)
			output.Info("Payload:")
			fmt.Println(string(job.Payload))
		})
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue sizes and service counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := adminClient(cmd)
		if err != nil {
			return err
		}

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		return output.Print(outputFormat(cmd), stats, func() {
			table := output.NewTable([]string{"Metric", "Value"})
			table.AddRow([]string{"pending", strconv.FormatInt(stats.Queue.Pending, 10)})
			table.AddRow([]string{"jobs", strconv.FormatInt(stats.Queue.Jobs, 10)})
			table.AddRow([]string{"dead letters", strconv.FormatInt(stats.Queue.DeadLetters, 10)})
			table.AddRow([]string{"received", strconv.FormatUint(stats.Service.Received, 10)})
			table.AddRow([]string{"succeeded", strconv.FormatUint(stats.Service.Succeeded, 10)})
			table.AddRow([]string{"ignored", strconv.FormatUint(stats.Service.Ignored, 10)})
			table.AddRow([]string{"dead-lettered", strconv.FormatUint(stats.Service.DeadLettered, 10)})
			table.AddRow([]string{"replayed", strconv.FormatUint(stats.Service.Replayed, 10)})
			for _, sink := range sortedKeys(stats.Sinks) {
				counters := stats.Sinks[sink]
				for _, name := range sortedKeys(counters) {
					table.AddRow([]string{sink + " " + name, strconv.FormatUint(counters[name], 10)})
				}
			}
			table.Render()
			if stats.Queue.DeadLetters > 0 {
				output.Warn("%d deliveries are dead-lettered; see 'hookctl dlq list'", stats.Queue.DeadLetters)
			}
		})
	},
}

func renderJobs(jobs []client.Job) {
	table := output.NewTable([]string{"Job ID", "Event", "Instance", "Received At"})
	for _, job := range jobs {
		received := ""
		if !job.ReceivedAt.IsZero() {
			received = job.ReceivedAt.Local().Format(timeLayout)
		}
		table.AddRow([]string{job.JobID, job.EventKind, job.InstanceID, received})
	}
	table.Render()
}

func printJob(job *client.Job) {
	output.Info("Job ID:    %s", job.JobID)
	output.Info("Event:     %s", job.EventKind)
	output.Info("Instance:  %s (tenant %s)", job.InstanceID, job.TenantID)
	output.Info("Received:  %s", job.ReceivedAt.Local().Format(timeLayout))
	if job.RequestID != "" {
		output.Info("Request:   %s", job.RequestID)
	}
	if job.PathHint != "" {
		output.Info("Path hint: %s", job.PathHint)
	}
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queuePendingCmd, queueJobCmd, queueStatsCmd)

	queuePendingCmd.Flags().Int("limit", 50, "maximum number of jobs to list")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
