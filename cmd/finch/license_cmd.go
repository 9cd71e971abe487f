package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darwin-finch/finch/internal/config"
	"github.com/darwin-finch/finch/internal/license"
)

// newLicenseCmd wires spec §6's `finch license {status,activate,remove}`
// surface onto the offline Ed25519 validator in internal/license.
func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage the Finch commercial license",
	}
	cmd.AddCommand(newLicenseStatusCmd())
	cmd.AddCommand(newLicenseActivateCmd())
	cmd.AddCommand(newLicenseRemoveCmd())
	return cmd
}

func newLicenseStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the currently activated license, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfigForLicense()
			if err != nil {
				return err
			}
			if cfg.License.Key == "" {
				fmt.Println("No license activated (running in community mode)")
				return nil
			}
			parsed, err := license.ValidateKey(cfg.License.Key)
			if err != nil {
				fmt.Printf("Stored license at %s is no longer valid: %v\n", path, err)
				return nil
			}
			fmt.Printf("Licensed to: %s <%s>\n", parsed.Name, parsed.Email)
			fmt.Printf("Tier:        %s\n", parsed.Tier)
			fmt.Printf("Expires:     %s\n", parsed.ExpiresAt.Format("2006-01-02"))
			return nil
		},
	}
}

func newLicenseActivateCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Validate and persist a license key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("license: --key is required")
			}
			parsed, err := license.ValidateKey(key)
			if err != nil {
				return fmt.Errorf("license: %w", err)
			}

			cfg, path, err := loadConfigForLicense()
			if err != nil {
				return err
			}
			cfg.License = config.LicenseConfig{
				Type:     parsed.Tier,
				Key:      key,
				Licensee: parsed.Name,
				Expiry:   parsed.ExpiresAt.Format("2006-01-02"),
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("license: saving config: %w", err)
			}

			fmt.Printf("License activated for %s (%s tier, expires %s)\n", parsed.Name, parsed.Tier, cfg.License.Expiry)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "the FINCH-... license key to activate")
	return cmd
}

func newLicenseRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove the currently activated license",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfigForLicense()
			if err != nil {
				return err
			}
			cfg.License = config.LicenseConfig{}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("license: saving config: %w", err)
			}
			fmt.Println("License removed; Finch is running in community mode")
			return nil
		},
	}
}

func loadConfigForLicense() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
