package main

import (
	"github.com/spf13/cobra"

	logx "remindbot/pkg/logx"
)

var (
	flagConfig   string
	flagLogLevel string

	logger logx.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bot",
		Short: "remindbot: durable reminders and timed moderation for Telegram",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logx.NewConsole(flagLogLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level for offline commands (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newPendingCmd(),
		newCancelCmd(),
	)
	return root
}
