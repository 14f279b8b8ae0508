package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "chatline",
	Short: "Realtime chat client",
	Long:  "chatline keeps conversations, typing indicators, and unread counts in sync with the chat backend.",
}

func main() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.chatline/config.toml)")
	rootCmd.AddCommand(runCmd, unreadCmd, sendCmd, conversationsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
