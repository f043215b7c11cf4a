package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartengo-backend/config"
	"smartengo-backend/internal/util"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "smartengod",
	Short: "SmartenGo toilet dashboard backend",
	Long:  `Serves the payment and sensor webhooks, the admin dashboard API and the realtime change feed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = "./config/config.yaml" // Default path for local development
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		if err := util.InitLogger(cfg.Server.Env); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		util.GetLogger().Info("Configuration loaded", zap.String("path", path), zap.String("env", cfg.Server.Env))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		util.SyncLogger()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config/config.yaml)")
}
