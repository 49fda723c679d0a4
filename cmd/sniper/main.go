package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clexe/sniper/bot"
	"github.com/clexe/sniper/logger/zerolog"

	"github.com/spf13/cobra"
)

// Command line flags
var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "sniper",
		Short:   "SMC signal scanner with Telegram delivery",
		Version: "1.0.0",
		RunE:    runScanner,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Optional config file, env vars take precedence")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (trace/debug/info/warn/error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console output")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runScanner(cmd *cobra.Command, _ []string) error {
	log, err := zerolog.New(logLevel, "2006-01-02 15:04:05", !logJSON, logJSON)
	if err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}

	settings, err := loadSettings(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sniper, err := bot.NewBot(settings, log)
	if err != nil {
		return err
	}

	return sniper.Run(ctx)
}
