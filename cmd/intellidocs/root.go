package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/reanm09/intellidocs/pkg/config"
	"github.com/reanm09/intellidocs/pkg/logging"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "intellidocs",
	Short: "Ask questions about your PDFs",
	Long: `Intellidocs indexes uploaded PDFs and answers questions about them,
citing pages and, in hybrid mode, web sources.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		errs := make([]error, 0, len(problems))
		for _, p := range problems {
			errs = append(errs, p)
		}
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	logger = logging.New(cmd.ErrOrStderr(), cfg.Log.Level)
	slog.SetDefault(logger)
	return nil
}
