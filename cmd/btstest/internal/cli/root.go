// Package cli wires the btstest commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"btstest/internal/config"
	"btstest/internal/logger"
)

// App holds the configuration shared by every command.
type App struct {
	v *viper.Viper
	// DotEnv is loaded before the config file is read.
	DotEnv string
}

// NewApp creates the CLI application.
func NewApp() *App {
	return &App{v: config.New(), DotEnv: ".env"}
}

// CreateRootCommand creates and configures the root command.
func (app *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "btstest",
		Short: "Scripted end-to-end tests for ledger nodes",
		Long: `btstest starts ledger nodes, drives them over JSON-RPC with .btstest
scripts and checks their console output against the expectations in the
scripts. Each test directory needs a testenv file.`,
		SilenceUsage:      true,
		PersistentPreRunE: app.initConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyConfigFile, "", "Config file (default: ./btstest.yaml when present)")
	flags.String(config.KeyLogLevel, "", "Set log level (debug|info|warn|error) [default: info]")
	flags.String(config.KeyLogFile, "", "Write logs to file instead of stderr")
	flags.Bool(config.KeyTestMode, false, "Deterministic log output")
	flags.BoolP(config.KeyVerbose, "v", false, "Show a character diff for every mismatch")
	if err := app.v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("binding persistent flags: %v", err))
	}

	app.addRunCommand(rootCmd)
	app.addHashMarketCommand(rootCmd)
	app.addVersionCommand(rootCmd)

	return rootCmd
}

func (app *App) initConfig(_ *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(app.DotEnv); err != nil {
		return err
	}
	if err := config.ReadFile(app.v); err != nil {
		return err
	}
	if err := logger.Configure(
		app.v.GetString(config.KeyLogLevel),
		app.v.GetString(config.KeyLogFile),
		app.v.GetBool(config.KeyTestMode),
	); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	return nil
}
