package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/darwin-finch/finch/internal/config"
)

// newSetupCmd bootstraps a first config. The full screen-by-screen wizard
// is an external surface that isn't part of this build; this command covers
// the path the missing-config error points at: write a default config.toml
// and take one API key on stdin.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create an initial ~/.finch/config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := config.EnsureDataDir()
			if err != nil {
				return fmt.Errorf("setup: data dir: %w", err)
			}
			path := filepath.Join(dataDir, "config.toml")
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s — edit it directly or delete it to start over.\n", path)
				return nil
			}

			fmt.Print("Anthropic API key (sk-ant-..., empty to configure later): ")
			reader := bufio.NewReader(os.Stdin)
			key, _ := reader.ReadString('\n')
			key = strings.TrimSpace(key)

			cfg := &config.Config{
				StreamingEnabled: true,
				TUIEnabled:       true,
				Providers: []config.ProviderConfig{
					{Type: "claude", APIKey: key, Model: "claude-sonnet-4"},
					{Type: "ollama", Endpoint: "http://localhost:11434", Model: "qwen2.5-coder"},
				},
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			fmt.Printf("Wrote %s\n", path)
			if key == "" {
				fmt.Println("No API key set — add one under [[providers]] or export " + config.EnvAPIKey + ".")
			}
			return nil
		},
	}
}
