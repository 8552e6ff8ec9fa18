// Package cli wires the watchtower commands: the long-running monitor, the
// one-shot scan and check sweeps, and version.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version = "0.1.0"
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "watchtower",
		Short: "Security event correlation and monitoring agent",
		Long:  "Watchtower correlates security events over a sliding window, probes for threats and vulnerabilities, and runs automated response actions.",
	}

	// Global flags
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory for audit logs, alerts, scans and the event archive")
	rootCmd.PersistentFlags().String("rules-dir", "", "Directory of YAML correlation rules (built-in rules when empty)")
	rootCmd.PersistentFlags().String("config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	_ = viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("rules-dir", rootCmd.PersistentFlags().Lookup("rules-dir"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	// Environment variable support (WATCHTOWER_DATA_DIR, etc.)
	viper.SetEnvPrefix("WATCHTOWER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	cobra.OnInitialize(loadConfigFile)

	// Subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func loadConfigFile() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "config file %s: %v\n", path, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
