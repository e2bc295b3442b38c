// Command crush is the Content Crush terminal client: sign in, read the
// API through the query cache, and follow realtime updates.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"contentcrush/cmd/internal/app"

	"github.com/spf13/cobra"
)

var (
	// Global flags; every one overrides the corresponding config key.
	flagBaseURL     string
	flagLogLevel    string
	flagLogFormat   string
	flagMetricsAddr string

	// runtime is built once in PersistentPreRunE and shared by commands.
	runtime *app.App
)

var rootCmd = &cobra.Command{
	Use:   "crush",
	Short: "Content Crush terminal client",
	Long: `crush talks to a Content Crush backend: authentication with automatic
token refresh, cached API reads, and realtime updates over the raw
socket and the event bus.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("base-url") {
			cfg.BaseURL = flagBaseURL
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = flagLogLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = flagLogFormat
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr = flagMetricsAddr
		}

		runtime, err = app.New(cfg, nil)
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if runtime != nil {
			runtime.Close(context.Background())
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend origin (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "console|json")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "expose /metrics on this address")

	rootCmd.AddCommand(loginCmd, logoutCmd, meCmd, registerCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(watchCmd, commentCmd, notifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext is the lifetime of long-running commands.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
