package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/pkg/output"
	"github.com/convohook/convohook/common/messaging"
	natsclient "github.com/convohook/convohook/common/messaging/nats"
)

var (
	subjectColor = color.New(color.FgMagenta)
	dlqColor     = color.New(color.FgRed)
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream processed messages and dead letters from NATS",
	Long: `Subscribe to the events the ingest service publishes after processing:
created messages, status changes and dead-lettered deliveries.`,
	Example: `  hookctl watch
  hookctl watch --subject 'convohook.dlq.>' -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProfile(cmd)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("nats-url"); v != "" {
			p.NATSURL = v
		}
		subject, _ := cmd.Flags().GetString("subject")

		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = p.NATSURL
		natsCfg.Name = "hookctl-watch"
		nc, err := natsclient.NewClient(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Close()

		format := outputFormat(cmd)
		if _, err := nc.Subscribe(subject, func(ctx context.Context, msg *messaging.Message) error {
			return printEvent(format, msg)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		if format == output.FormatTable {
			output.Info("Watching %s on %s (Ctrl-C to stop)", subject, p.NATSURL)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

type watchedEvent struct {
	Subject  string            `json:"subject"`
	Headers  map[string]string `json:"headers,omitempty"`
	Received string            `json:"received"`
	Data     json.RawMessage   `json:"data"`
}

func printEvent(format string, msg *messaging.Message) error {
	if format == output.FormatJSON || format == output.FormatYAML {
		data := json.RawMessage(msg.Data)
		if !json.Valid(data) {
			quoted, _ := json.Marshal(string(msg.Data))
			data = quoted
		}
		event := watchedEvent{
			Subject:  msg.Subject,
			Headers:  msg.Metadata,
			Received: msg.Timestamp.Format(timeLayout),
			Data:     data,
		}
		if format == output.FormatJSON {
			b, err := json.Marshal(event)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		return output.YAML([]watchedEvent{event})
	}

	c := subjectColor
	if strings.HasPrefix(msg.Subject, messaging.SubjectDeadLetterPrefix+".") {
		c = dlqColor
	}
	job := msg.Metadata[messaging.HeaderJobID]
	fmt.Fprintf(os.Stdout, "%s %s %s %s\n",
		msg.Timestamp.Format(timeLayout),
		c.Sprint(msg.Subject),
		job,
		output.Truncate(string(msg.Data), 160),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("subject", messaging.SubjectAll, "subject to subscribe to")
	watchCmd.Flags().String("nats-url", "", "NATS URL, overrides the profile")
}
