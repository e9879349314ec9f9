package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gotock",
	Short: "Client runtime for Tock platform bots",
	Long:  "Maintains a WebSocket session to a Tock bot platform and dispatches inbound requests to registered stories.",
}

// Execute loads the optional .env file and runs the CLI.
func Execute() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
