// Package main provides the CLI entry point for Recall, a local-first
// personal AI agent with a persistent, encrypted memory.
//
// # Basic Usage
//
// Talk to the agent:
//
//	recall chat "what did I say about the trip to Lisbon?"
//
// Manage memories directly:
//
//	recall memory add "prefers aisle seats" --category user_defined
//	recall memory search "seating"
//
// Protect the data:
//
//	recall backup create --encrypt
//	recall backup list
//
// # Environment Variables
//
//   - RECALL_CONFIG: path to the configuration file (default: ~/.recall/config.yaml)
//   - RECALL_PASSPHRASE: passphrase for master key derivation on first run
//   - OPENAI_API_KEY / ANTHROPIC_API_KEY: provider keys, referenced as
//     ${OPENAI_API_KEY} from the config file
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recall/internal/config"
	"github.com/haasonsaas/recall/internal/core"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "recall",
		Short:         "Local-first personal AI agent with persistent memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		buildChatCmd(),
		buildMemoryCmd(),
		buildBackupCmd(),
		buildExportCmd(),
		buildImportCmd(),
		buildStatsCmd(),
		buildOptimizeCmd(),
	)
	return cmd
}

// defaultConfigPath resolves RECALL_CONFIG, falling back to
// ~/.recall/config.yaml.
func defaultConfigPath() string {
	if p := os.Getenv("RECALL_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".recall", "config.yaml")
}

// openCore loads configuration and assembles the system. Callers must
// Close the returned handle.
func openCore(configPath string) (*core.Core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return core.Open(cfg)
}
