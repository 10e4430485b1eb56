package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/flowd/internal/config"
)

// initForce overwrites an existing config file.
var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the flowd config file",
	Long: `Create ~/.config/flowd/config.yaml with commented defaults.

The loader only accepts config files under ~/.config/flowd/ or /etc/flowd/
with 0600 or 0400 permissions; init writes the file accordingly.

Examples:
  # Write the default config
  flowd init

  # Start over from the defaults
  flowd init --force`,
	RunE: runInit,
}

const configTemplate = `# flowd configuration.
# FLOWD_* environment variables override anything set here, for example
# FLOWD_SERVER_PORT=9090 or FLOWD_ENGINE_MAX_STEPS=64.

engine:
  max_retries: 2     # nudges per phase before the run fails
  max_iterations: 3  # review revision loops before giving up
  max_steps: 128     # hard budget of model turns and tool invocations

model:
  provider: anthropic  # anthropic or scripted
  # api_key defaults to $ANTHROPIC_API_KEY
  # model: claude-sonnet-4-20250514
  # timeout: 120     # seconds per model call
  # max_tokens: 4096

server:
  port: 8484
  shutdown_timeout: 10s

events:
  # nats_url: nats://localhost:4222  # serve mode starts an embedded broker when unset
  # dir: /var/lib/flowd/events       # where flowd run drops NDJSON event logs

secrets:
  disabled: false
  # allowlist_path: ~/.config/flowd/allowlist.toml

checkpoint:
  disabled: false

observability:
  enable_telemetry: false
  service_name: flowd
  endpoint: localhost:4317
  protocol: grpc
  insecure: true

logging:
  level: info   # debug, info, warn, error
  format: json  # json or console
`

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	path := filepath.Join(home, ".config", "flowd", "config.yaml")

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			cmd.Printf("Config already exists at: %s\n", path)
			cmd.Println("Use --force to overwrite.")
			return nil
		}
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	cmd.Printf("Wrote %s\n", path)
	return nil
}
