package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/classify"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/imaging"
	"github.com/kamusis/shoesnap/internal/result"
)

var (
	flagAnalyzeOut  string
	flagAnalyzeK    int
	flagAnalyzeJSON bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image>",
	Short: "Predict shoe attributes and find similar gallery photos",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&flagAnalyzeOut, "out", "o", result.DefaultFile, "Where to write the JSON record (empty to skip)")
	analyzeCmd.Flags().IntVar(&flagAnalyzeK, "k", 0, "Number of neighbours (default from config)")
	analyzeCmd.Flags().BoolVar(&flagAnalyzeJSON, "json", false, "Print the JSON record to stdout instead of the summary")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if flagAnalyzeK < 0 {
		return fmt.Errorf("--k must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := commandLogger(cmd)

	img, err := imaging.DecodeFile(args[0])
	if err != nil {
		return err
	}

	sess := newSession(cfg)
	ctx := cmd.Context()
	if _, err := sess.LoadModel(ctx); err != nil {
		return err
	}
	if _, err := sess.RefreshGallery(ctx, gallery.BuildOptions{}); err != nil {
		// Attributes are still useful without lookalikes.
		log.Warn().Err(err).Msg("gallery unavailable; continuing without similarity search")
	}

	a, err := sess.Analyze(ctx, img, flagAnalyzeK)
	if err != nil {
		return err
	}

	if flagAnalyzeOut != "" {
		if err := result.WriteFile(flagAnalyzeOut, a.Record); err != nil {
			return err
		}
	}
	if flagAnalyzeJSON {
		return result.Write(os.Stdout, a.Record)
	}

	printSection("shoesnap analyze")
	printKV("image", args[0])
	fmt.Println()
	for _, attr := range classify.Attributes {
		p := a.Predictions[attr.Name]
		printKV(attr.Name, fmt.Sprintf("%s (%.1f%%)", p.Label, p.Probability*100))
	}
	printKV("dominant colour", a.Record.DominantColorHex)

	printBullet("Similar gallery photos:")
	if !a.SearchAvailable {
		printSkip("", "gallery is empty or not indexed")
	}
	for i, n := range a.Neighbors {
		printInfo(fmt.Sprintf("%d", i+1), fmt.Sprintf("%s  (distance %.4f)", filepath.Base(n.Path), n.CosineDistance))
	}
	if flagAnalyzeOut != "" {
		fmt.Println()
		printOK("", "wrote "+flagAnalyzeOut)
	}
	return nil
}
