package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comigor/tenant-chat/internal/config"
	"github.com/comigor/tenant-chat/internal/logger"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tenantchat",
	Short: "Chat with a tenant's customer-service assistant",
	Long: `tenantchat opens a conversation with the assistant of one tenant
(a restaurant) through its chat backend. It can also run a local backend
for development and expose a conversation to other agents over MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.L.Warn("failed to load .env file", "error", err)
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.SetOut(os.Stdout)
}

// tenantArg picks the slug from args or falls back to the configured tenant.
func tenantArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Tenant != "" {
		return cfg.Tenant, nil
	}
	return "", errors.New("tenant slug is required (argument or `tenant` in config)")
}
