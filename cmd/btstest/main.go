// Package main provides btstest, the scripted end-to-end test runner for
// ledger nodes.
package main

import (
	"os"

	"btstest/cmd/btstest/internal/cli"
)

func main() {
	app := cli.NewApp()
	rootCmd := app.CreateRootCommand()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
