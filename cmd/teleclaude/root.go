package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "teleclaude",
		Short: "Bridge Claude Code sessions to Telegram",
		Long: `teleclaude bridges a Claude Code terminal session to a Telegram chat.

Type /tg inside Claude Code to teleport the running session to your phone,
approve or reject tool calls from chat, and hand the session back to the
terminal with /cc.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newHookCmd())
	root.AddCommand(newStatusCmd())
	return root
}
