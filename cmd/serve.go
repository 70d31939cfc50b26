package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/logging"
	"github.com/kamusis/shoesnap/internal/server"
)

const shutdownTimeout = 15 * time.Second

var (
	flagServeAddr   string
	flagServeNoWarm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analysis over HTTP",
	Long: `Start an HTTP server exposing model loading, gallery refresh and image
analysis, plus Prometheus metrics on /metrics.

By default the model is loaded and the gallery indexed before listening. A
failure there is logged and can be retried through the API.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&flagServeNoWarm, "no-warm", false, "Do not load the model or index the gallery at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagServeAddr != "" {
		cfg.Server.Addr = flagServeAddr
	}
	log := commandLogger(cmd)
	sess := newSession(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !flagServeNoWarm {
		if _, err := sess.LoadModel(ctx); err != nil {
			log.Warn().Err(err).Msg("model not loaded at startup")
		} else if _, err := sess.RefreshGallery(ctx, gallery.BuildOptions{}); err != nil {
			log.Warn().Err(err).Str("dir", cfg.GalleryDir).Msg("gallery not indexed at startup")
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(sess, logging.Component("http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return nil
	}
}
