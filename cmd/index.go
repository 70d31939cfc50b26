package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/session"
)

var (
	flagIndexDir   string
	flagIndexForce bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or refresh the gallery embedding cache",
	Long: `Embed every image in the gallery directory and cache the result under the
cache directory, keyed by a fingerprint of the directory listing.

The fingerprint covers file names and sizes only. Use --force after editing an
image in place without changing its size.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&flagIndexDir, "dir", "", "Gallery directory (default from config)")
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "Ignore any cached artifact and re-embed every image")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagIndexDir != "" {
		cfg.GalleryDir = flagIndexDir
	}
	sess := newSession(cfg)

	printSection("shoesnap index")
	if _, err := sess.LoadModel(cmd.Context()); err != nil {
		return err
	}
	start := time.Now()
	g, err := sess.RefreshGallery(cmd.Context(), gallery.BuildOptions{Force: flagIndexForce})
	if err != nil {
		return err
	}
	printGallerySummary(sess, g, time.Since(start))
	return nil
}

func printGallerySummary(sess *session.Session, g *gallery.Gallery, elapsed time.Duration) {
	printKV("gallery", sess.GalleryDir())
	printKV("model", g.ModelID)
	if g.Fingerprint != "" {
		printKV("fingerprint", g.Fingerprint)
	}
	printKV("indexed", g.Size())
	printKV("elapsed", elapsed.Round(time.Millisecond))

	skipped := g.Skipped()
	if len(skipped) > 0 {
		printBullet(fmt.Sprintf("Skipped (%d):", len(skipped)))
		for _, o := range skipped {
			printSkip(filepath.Base(o.Path), o.Reason)
		}
	}
	fmt.Println()
	switch {
	case g.Size() == 0:
		printWarn("", "no decodable images; similarity search is unavailable")
	case g.CacheHit:
		printOK("", "cache hit; nothing to re-embed")
	default:
		printOK("", fmt.Sprintf("embedded and cached %d image(s)", g.Size()))
	}
}
