// Package cli holds the levelup command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/victornm/levelup/internal/config"
	"github.com/victornm/levelup/internal/server"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "levelup",
		Short:        "Quiz rank progression for Discord guilds",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newCheckConfigCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return cmd
}

// loadConfig reads the config file over the defaults and installs the configured logger.
func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	l, err := config.NewLogger(os.Stderr, c.Log)
	if err != nil {
		return c, err
	}
	slog.SetDefault(l)

	return c, nil
}
