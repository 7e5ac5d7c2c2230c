package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netforge/internal/config"
	"netforge/internal/logger"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfg        = config.NewConfig()
	configPath string
	log        logger.Logger = logger.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "netforge",
	Short:         "Interception, rewrite, replay and fuzzing engine for HTTP traffic",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.LoadWithFlags(configPath, cmd.Flags()); err != nil {
			return err
		}
		log = logger.New(logger.Options{
			Level:      cfg.Log.Level,
			Writers:    cfg.Log.Writer,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// 不需要加载配置
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netforge %s (%s) %s\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(versionCmd, serveCmd, rulesCmd, intruderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
