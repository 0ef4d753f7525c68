package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/internal/client"
	"github.com/convohook/convohook/cli/pkg/output"
	"github.com/convohook/convohook/ingest/pkg/payload"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a webhook delivery to the ingest service",
	Long: `Send a provider webhook body using an instance credential. The body comes
from --file (use - for stdin), --json, or is generated with --fake.`,
	Example: `  hookctl send --fake 5 --mixed
  hookctl send --file delivery.json
  hookctl send --json '{"data":{"keyId":"ABC","status":"READ"}}' --event-hint messages-update
  hookctl send --status ABC:read`,
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	p, err := resolveProfile(cmd)
	if err != nil {
		return err
	}
	credential, _ := cmd.Flags().GetString("credential")
	if credential == "" {
		credential = p.Credential
	}
	if credential == "" {
		return fmt.Errorf("instance credential is required (use --credential or 'hookctl profile set --credential')")
	}

	body, err := buildSendBody(cmd)
	if err != nil {
		return err
	}

	hint, _ := cmd.Flags().GetString("event-hint")
	resp, err := client.NewWebhookClient(p.ServerURL, credential).Send(cmd.Context(), body, hint)
	if err != nil {
		return fmt.Errorf("delivery rejected: %w", err)
	}

	return output.Print(outputFormat(cmd), resp, func() {
		switch {
		case resp.Ignored != "":
			output.Success("Accepted and ignored %s (job %s)", resp.Ignored, resp.JobID)
		case resp.Updated != nil:
			output.Success("Updated %d message(s) (job %s)", *resp.Updated, resp.JobID)
		case resp.Processed != nil:
			output.Success("Processed %d message(s) (job %s)", *resp.Processed, resp.JobID)
		default:
			output.Success("Delivered (job %s)", resp.JobID)
		}
	})
}

func buildSendBody(cmd *cobra.Command) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	raw, _ := cmd.Flags().GetString("json")
	fake, _ := cmd.Flags().GetInt("fake")
	status, _ := cmd.Flags().GetString("status")

	sources := 0
	for _, set := range []bool{file != "", raw != "", fake > 0, status != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of --file, --json, --fake or --status is required")
	}

	switch {
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	case raw != "":
		if !json.Valid([]byte(raw)) {
			output.Warn("--json is not valid JSON; sending it anyway")
		}
		return []byte(raw), nil
	}

	instance, _ := cmd.Flags().GetString("instance")
	seed, _ := cmd.Flags().GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := payload.NewGenerator(instance, seed)

	if status != "" {
		id, state, ok := cutStatus(status)
		if !ok {
			return nil, fmt.Errorf("--status must be MESSAGE_ID:STATUS, got %q", status)
		}
		return json.Marshal(gen.StatusUpdate(id, gen.JID(), state))
	}

	mixed, _ := cmd.Flags().GetBool("mixed")
	return json.Marshal(gen.Upsert(gen.Batch(fake, mixed)...))
}

func cutStatus(s string) (id, status string, ok bool) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", false
	}
	id, status = s[:i], s[i+1:]
	return id, status, id != "" && status != ""
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringP("file", "f", "", "file with the webhook body, - for stdin")
	sendCmd.Flags().String("json", "", "webhook body as a JSON string")
	sendCmd.Flags().Int("fake", 0, "generate an upsert with this many fake messages")
	sendCmd.Flags().Bool("mixed", false, "mix inbound and outbound messages in --fake")
	sendCmd.Flags().Int64("seed", 0, "seed for --fake and --status (default: random)")
	sendCmd.Flags().String("status", "", "send a status update, MESSAGE_ID:STATUS")
	sendCmd.Flags().String("instance", "hookctl", "instance name written into generated bodies")
	sendCmd.Flags().String("event-hint", "", "post to /webhook/{event-hint}")
	sendCmd.Flags().String("credential", "", "instance API key, overrides the profile")
}
