package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "yaml":
				data, err = yaml.Marshal(cfg)
			case "toml":
				data, err = toml.Marshal(cfg)
			case "json":
				return writeJSON(cmd, cfg)
			default:
				return fmt.Errorf("unsupported format %q (yaml, toml or json)", format)
			}
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml, toml or json")
	return cmd
}
