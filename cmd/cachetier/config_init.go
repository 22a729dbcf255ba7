package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default cachetier configuration file at ~/.config/cachetier/cachetier.yaml`,
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/cachetier/"+defaultConfigFile+")")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

// runConfigInit creates a default configuration file at the provided
// output path or, if none is provided, at ~/.config/cachetier/cachetier.yaml.
// It creates parent directories as needed, refuses to overwrite an
// existing file unless --force is set, and prints next steps.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", "cachetier", defaultConfigFile)
	}

	// Check if file exists
	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
	}

	// Create directory if needed
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("✓ Config file created at %s\n", output)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the config file to point at your backends")
	fmt.Println("  2. Validate with: cachetier config validate")
	fmt.Println("  3. Exercise it with: cachetier bench")

	return nil
}

// defaultConfigTemplate is the starter configuration written by
// `cachetier config init`: an in-process LRU cache plus a commented
// Redis tier with resilience.
const defaultConfigTemplate = `# cachetier configuration
logging:
  level: info
  format: console

# Recovery probes ping unhealthy backends and close their circuits when
# they come back.
health:
  probes:
    enabled: true
    interval_ms: 10000
  circuit_breaker:
    failure_threshold: 5
    open_duration_ms: 30000
    half_open_probes: 3

caches:
  # In-process cache for hot lookups.
  - name: catalog
    backend:
      kind: local
      local:
        shard_count: 16
    strategy:
      policy: lru
      lru:
        max_size: 10000
        default_ttl: 10m

  # Redis tier with retries, a circuit breaker, and a local fallback
  # that serves reads while Redis is down.
  # - name: sessions
  #   backend:
  #     kind: redis
  #     redis:
  #       address: localhost:6379
  #       password: ${REDIS_PASSWORD}
  #       key_prefix: "sessions:"
  #       max_connections: 10
  #   strategy:
  #     policy: ttl
  #     ttl:
  #       default_ttl: 30m
  #   resilience:
  #     retry_attempts: 3
  #     retry_backoff_base: 100ms
  #     circuit_breaker_threshold: 5
  #     enable_fallback: true
  #   fallback:
  #     kind: local
  #     local:
  #       shard_count: 8

default: catalog
`
