package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/internal/client"
	"github.com/convohook/convohook/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hookctl",
	Short: "convohook operator CLI",
	Long: `hookctl inspects and operates the convohook webhook ingestion service.

List pending jobs, inspect, replay and purge dead-lettered deliveries,
send test payloads and watch processed messages as they are published.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.hookctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("server", "", "ingest service URL, overrides the profile")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// resolveProfile returns the active profile with --server applied.
func resolveProfile(cmd *cobra.Command) (config.Profile, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	name, _ := cmd.Flags().GetString("profile")
	p, err := cfg.Resolve(name)
	if err != nil {
		return config.Profile{}, err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		p.ServerURL = server
	}
	return p, nil
}

func adminClient(cmd *cobra.Command) (*client.AdminClient, error) {
	p, err := resolveProfile(cmd)
	if err != nil {
		return nil, err
	}
	if p.AdminToken == "" {
		return nil, fmt.Errorf("admin token is not set (use 'hookctl profile set --admin-token' or %s)", config.EnvAdminToken)
	}
	return client.NewAdminClient(p.ServerURL, p.AdminToken), nil
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
