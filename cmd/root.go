package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/config"
	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/logging"
	"github.com/kamusis/shoesnap/internal/session"
)

var (
	flagConfigPath string
	flagLogLevel   string
	flagLogFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "shoesnap",
	Short:        "shoesnap — shoe attribute prediction and gallery lookalike search",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `shoesnap predicts the category, closure, toe shape, material and colour of a
shoe photo by zero-shot matching against a CLIP encoder, and finds the most
similar photos in a local gallery directory.

Configuration lives in ~/.shoesnap/shoesnap.yaml; SHOESNAP_* variables in the
environment or ~/.shoesnap/.env override it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file (default ~/.shoesnap/shoesnap.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: console or json")
}

// Execute is called by main.go.
func Execute() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config, applies logging flags and initialises the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	return cfg, nil
}

// newSession wires a session to the configured encoder server.
func newSession(cfg *config.Config) *session.Session {
	client := embeddings.NewClipServer(embeddings.ClientConfig{
		BaseURL: cfg.Encoder.BaseURL,
		APIKey:  cfg.Encoder.APIKey,
		Timeout: cfg.Encoder.Timeout,
	})
	return session.New(session.Options{
		Opener:     client,
		Variants:   cfg.Model.Variants,
		GalleryDir: cfg.GalleryDir,
		CacheDir:   cfg.CacheDir,
		Search:     cfg.NeighborOptions(),
		Log:        logging.Component("session"),
	})
}

// commandLogger returns the global logger tagged with the running command.
func commandLogger(cmd *cobra.Command) zerolog.Logger {
	return logging.Component(cmd.Name())
}
