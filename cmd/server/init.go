package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peteski22/donorsync/internal/config"
)

const configTemplate = `# donorsync configuration
# Every key can also be set through the environment, e.g. DONORSYNC_GOOGLE_CLIENT_ID.

http:
  address: "0.0.0.0:8080"
  # Extra CORS origins. Defaults to ui.base_url.
  allowed_origins: []

log:
  # One of debug, info, warn, error.
  level: "info"

database:
  # Platform SQLite database holding donors, contacts and places.
  path: "donorsync.db"

auth:
  # HS256 key for API session tokens and OAuth state values.
  signing_secret: ""
  state_ttl_minutes: 10
  session_ttl_minutes: 60

google:
  # From Google Cloud Console -> APIs & Services -> Credentials.
  client_id: ""
  client_secret: ""
  # Must match an authorized redirect URI of the OAuth client.
  redirect_url: "http://localhost:8080/oauth2callback"
  # Name of the managed contact group.
  group_name: "Donors"

ui:
  # The OAuth callback redirects here with ?sync=success or ?sync=error.
  base_url: "http://localhost:3000"

aws:
  # Empty values use the SDK defaults. Set endpoint for LocalStack.
  region: ""
  endpoint: ""

dynamodb:
  mappings_table: "donorsync-mappings"
  # Leave empty to disable sync log persistence.
  logs_table: "donorsync-sync-logs"

secrets:
  # Secrets Manager name prefix for account connections.
  # Leave empty to keep connections in ~/.donorsync/connections.json.
  prefix: ""

ssm:
  # Parameter prefix for cached contact group names. Leave empty to disable the cache.
  group_prefix: "/donorsync"

sync:
  # Delay between mutating Google calls. Must be at least 1.1s.
  throttle_interval: "1.1s"
  call_timeout: "30s"

scheduler:
  enabled: true
  interval: "6h"
  concurrency: 4
`

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

// runInit creates a sample configuration file.
func runInit() error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println("Created config file:", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Fill in auth.signing_secret and the google section")
	fmt.Println("  2. Run 'donorsync serve' to start the API")
	fmt.Println("  3. Run 'donorsync connect --account <id>' to link a Google account")

	connectionsPath, err := config.ConnectionsFilePath()
	if err == nil {
		fmt.Println()
		fmt.Printf("Local connections will be stored at: %s\n", connectionsPath)
	}

	return nil
}
