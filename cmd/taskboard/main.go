package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskboard",
	Short: "Taskboard - a shared task planner client",
	Long: `Taskboard keeps a personal task board in sync with the remote task API.
Run it as a Telegram bot, or print the board once in the terminal.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(botCmd(), listCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
