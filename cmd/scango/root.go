package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/scango/internal/config"
	"github.com/cjeanneret/scango/internal/debug"
)

var defaultConfigPath = filepath.Join("configs", "default.yaml")

// commandContext carries the persistent flags and the lazily loaded config.
type commandContext struct {
	configPath string
	debugLevel int
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "scango",
		Short:         "Scan barcodes from a camera",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", defaultConfigPath, "path to config file (.yaml or .toml inside a configs/ directory)")
	rootCmd.PersistentFlags().IntVar(&ctx.debugLevel, "debug-level", -1, "override the configured debug level (0-4)")

	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// ensureConfig loads the configuration once. A missing default config file
// falls back to the built-in defaults; an explicit --config must exist.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	explicit := cmd.Flags().Changed("config")
	var cfg *config.Config
	if err := config.ValidateConfigPath(c.configPath); err != nil {
		return nil, err
	}
	loaded, err := config.Load(c.configPath)
	switch {
	case err == nil:
		cfg = loaded
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	if c.debugLevel >= 0 {
		if c.debugLevel > debug.LevelTrace {
			return nil, fmt.Errorf("debug-level must be between 0 and %d, got %d", debug.LevelTrace, c.debugLevel)
		}
		cfg.Defaults.DebugLevel = c.debugLevel
	}

	debug.SetOutput(cmd.ErrOrStderr())
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", c.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	c.cfg = cfg
	return cfg, nil
}
