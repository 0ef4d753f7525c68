package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/convohook/convohook/cli/internal/config"
	"github.com/convohook/convohook/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	Example: `  hookctl profile set prod --server https://hooks.example.com --admin-token $TOKEN
  hookctl profile set local --server http://localhost:8088 --credential dev-key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		p := config.Profile{}
		if existing, err := cfg.GetProfile(name); err == nil {
			p = *existing
		}

		if v, _ := cmd.Flags().GetString("server"); v != "" {
			p.ServerURL = v
		}
		if v, _ := cmd.Flags().GetString("admin-token"); v != "" {
			p.AdminToken = v
		}
		if v, _ := cmd.Flags().GetString("credential"); v != "" {
			p.Credential = v
		}
		if v, _ := cmd.Flags().GetString("nats-url"); v != "" {
			p.NATSURL = v
		}

		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved and selected", name)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		views := make([]profileView, 0, len(names))
		for _, name := range names {
			p := cfg.Profiles[name]
			views = append(views, profileView{
				Name:       name,
				Current:    name == cfg.CurrentProfile,
				ServerURL:  p.ServerURL,
				AdminToken: mask(p.AdminToken),
				Credential: mask(p.Credential),
				NATSURL:    p.NATSURL,
			})
		}

		return output.Print(outputFormat(cmd), views, func() {
			if len(views) == 0 {
				output.Info("No profiles configured")
				return
			}
			table := output.NewTable([]string{"", "Name", "Server", "Admin Token", "Credential"})
			for _, v := range views {
				current := ""
				if v.Current {
					current = "*"
				}
				table.AddRow([]string{current, v.Name, v.ServerURL, v.AdminToken, v.Credential})
			}
			table.Render()
		})
	},
}

type profileView struct {
	Name       string `json:"name"`
	Current    bool   `json:"current"`
	ServerURL  string `json:"server_url,omitempty"`
	AdminToken string `json:"admin_token,omitempty"`
	Credential string `json:"credential,omitempty"`
	NATSURL    string `json:"nats_url,omitempty"`
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Select the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cfg.GetProfile(args[0]); err != nil {
			return err
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		output.Success("Using profile '%s'", args[0])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove [name]",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

// mask hides all but the last four characters of a secret.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileListCmd, profileUseCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("admin-token", "", "admin API token")
	profileSetCmd.Flags().String("credential", "", "instance API key used by 'send'")
	profileSetCmd.Flags().String("nats-url", "", "NATS URL used by 'watch'")
}
