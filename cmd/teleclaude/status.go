package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/teleclaude/teleclaude/internal/common/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and whether the server is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			fmt.Printf("Config file:  %s\n", config.Path())
			if cfg.IsConfigured() {
				fmt.Println("Configured:   yes")
				fmt.Printf("Telegram user: %d\n", cfg.Telegram.UserID)
				if cfg.Telegram.Username != "" {
					fmt.Printf("Username:     @%s\n", cfg.Telegram.Username)
				}
			} else {
				fmt.Println("Configured:   no (set telegram.bot_token and telegram.user_id)")
			}
			fmt.Printf("Server:       %s\n", cfg.ServerURL())
			fmt.Printf("Claude CLI:   %s\n", cfg.Claude.CLIPath)

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
			if err != nil {
				fmt.Println("Status:       not running")
				return nil
			}
			conn.Close()
			fmt.Println("Status:       running")
			return nil
		},
	}
}
