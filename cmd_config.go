package main

import (
	"github.com/niss337/securechat/lib/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			if check {
				if err := config.Validate(cfg); err != nil {
					return err
				}
			}
			return config.WriteYAML(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().BoolVar(&check, "validate", false, "fail if the configuration is invalid")
	return cmd
}
