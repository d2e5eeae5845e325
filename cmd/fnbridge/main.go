package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/fnbridge/internal/config"
	"github.com/oriys/fnbridge/internal/logging"
)

var (
	configFile string
	logLevel   string
	logFormat  string

	cfg *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fnbridge",
		Short: "fnbridge - resolve and invoke user-defined functions",
		Long:  "Resolve user-defined functions from names or serialized code and serve scalar, row and dataframe invocations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = loaded
			logging.InitStructuredTo(cmd.ErrOrStderr(), cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			return setupLoader(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		serveCmd(),
		resolveCmd(),
		evalCmd(),
		calcCmd(),
		logsCmd(),
	)
	return rootCmd
}

// loadConfig layers the config file, the environment and the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.DefaultConfig()
	if configFile != "" {
		var err error
		c, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(c)

	if cmd.Flags().Changed("log-level") {
		c.Daemon.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		c.Daemon.LogFormat = logFormat
	}
	return c, nil
}
