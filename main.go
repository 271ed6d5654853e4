package main

import (
	"fmt"
	"os"

	"github.com/niss337/securechat/lib/config"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var log = logger.GetChatLogger()

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "securechat",
		Short: "Encrypted multi-room chat server and client",
		Long: `securechat runs a TLS chat server with named rooms and private
messages, and an interactive terminal client to talk to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(); err != nil {
				return err
			}
			cfg := config.CurrentConfig()
			logger.Configure(logger.Options{
				Level:      cfg.Log.Level,
				Format:     cfg.Log.Format,
				File:       cfg.Log.File,
				MaxSizeMB:  cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAgeDays: cfg.Log.MaxAgeDays,
				Compress:   cfg.Log.Compress,
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.securechat/config.yaml)")

	root.AddCommand(
		serveCmd(),
		clientCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}
