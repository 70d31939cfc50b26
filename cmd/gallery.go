package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/importer"
)

var (
	flagImportExcludes []string
	flagImportTag      string
	flagFingerprintDir string
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage the reference image gallery",
}

var galleryImportCmd = &cobra.Command{
	Use:   "import <src>",
	Short: "Copy images from a directory into the gallery",
	Long: `Copy the image files directly inside <src> into the gallery directory.

Files identical to an existing gallery file (by MD5) are skipped. A file whose
name is taken by different content is written as name.conflict-<tag>.ext, where
<tag> defaults to the source directory name. Run 'shoesnap index' afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runGalleryImport,
}

var galleryFingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the gallery fingerprint without embedding anything",
	Args:  cobra.NoArgs,
	RunE:  runGalleryFingerprint,
}

func init() {
	galleryImportCmd.Flags().StringArrayVar(&flagImportExcludes, "exclude", nil, "Glob pattern to skip (repeatable; added to config excludes)")
	galleryImportCmd.Flags().StringVar(&flagImportTag, "tag", "", "Suffix for conflicting copies (default: source directory name)")
	galleryFingerprintCmd.Flags().StringVar(&flagFingerprintDir, "dir", "", "Gallery directory (default from config)")
	galleryCmd.AddCommand(galleryImportCmd, galleryFingerprintCmd)
	rootCmd.AddCommand(galleryCmd)
}

func runGalleryImport(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	excludes := append(append([]string{}, cfg.Excludes...), flagImportExcludes...)

	printSection("shoesnap gallery import")
	printKV("from", args[0])
	printKV("into", cfg.GalleryDir)

	res, err := importer.ImportDir(args[0], cfg.GalleryDir, importer.Options{Tag: flagImportTag, Excludes: excludes})
	if err != nil {
		return err
	}

	if len(res.Conflicts) > 0 {
		printBullet(fmt.Sprintf("Conflicts (%d):", len(res.Conflicts)))
		for _, c := range res.Conflicts {
			printWarn(filepath.Base(c.Original), "kept; incoming copy written to "+filepath.Base(c.Conflict))
		}
	}
	if len(res.Unsupported) > 0 {
		printBullet(fmt.Sprintf("Not images (%d):", len(res.Unsupported)))
		for _, p := range res.Unsupported {
			printSkip("", filepath.Base(p))
		}
	}
	fmt.Println()
	printOK("", fmt.Sprintf("%d imported, %d identical skipped, %d excluded", res.Imported, res.Skipped, res.Excluded))
	if res.Imported > 0 {
		printInfo("", "run 'shoesnap index' to refresh the embedding cache")
	}
	return nil
}

func runGalleryFingerprint(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.GalleryDir
	if flagFingerprintDir != "" {
		dir = flagFingerprintDir
	}
	fp, n, err := gallery.FingerprintDir(dir)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %d file(s)  %s\n", fp, n, dir)
	return nil
}
