// Package cmd implements the CLI commands for tsswitch.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediaswitch/tsswitch/internal/config"
	"github.com/mediaswitch/tsswitch/internal/observability"
	"github.com/mediaswitch/tsswitch/internal/version"
)

// appViper is a dedicated viper instance for tsswitch, kept separate from
// any other CLI in this module so their configuration never collides.
var appViper = viper.New()

var rootCmd = &cobra.Command{
	Use:     "tsswitch",
	Short:   "Realtime input-switching relay",
	Version: version.Short(),
	Long: `tsswitch reads fixed-size packets from one of several configured
inputs at a time and forwards them to a single output, switching between
inputs on demand, on receive timeout, or on primary-input pre-emption.

Configuration layers, highest precedence first: CLI flags, environment
variables prefixed TSSWITCH_, a config file, built-in defaults.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().String("config", "", "path to a config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

func initConfig() {
	config.SetDefaults(appViper)

	if cfgPath, _ := rootCmd.PersistentFlags().GetString("config"); cfgPath != "" {
		appViper.SetConfigFile(cfgPath)
		if err := appViper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "reading config file %s: %v\n", cfgPath, err)
		}
	}

	appViper.SetEnvPrefix("TSSWITCH")
	appViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	appViper.AutomaticEnv()
}

func initLogging() error {
	level := appViper.GetString("logging.level")
	format := appViper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logger := observability.NewLogger(config.LoggingConfig{Level: strings.ToLower(level), Format: strings.ToLower(format)})
	observability.SetDefault(logger)
	return nil
}

// AppViper returns the shared viper instance subcommands read flags/config
// through.
func AppViper() *viper.Viper {
	return appViper
}
