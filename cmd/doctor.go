package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/config"
	"github.com/kamusis/shoesnap/internal/embeddings"
	"github.com/kamusis/shoesnap/internal/gallery"
	"github.com/kamusis/shoesnap/internal/imaging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight environment checks",
	Long: `Check that the config, gallery, cache and encoder server are usable.
Run this command when something seems wrong, or before filing a bug report.`,
	RunE: runDoctor,
}

var doctorFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Automatically fix detected issues",
	Long: `Fix detected issues in the shoesnap environment.

Currently fixes:
  - Stale temporary files left in the embedding cache by an interrupted build

Conflict copies in the gallery are real photos and are never deleted here.`,
	RunE: runDoctorFix,
}

func init() {
	doctorCmd.AddCommand(doctorFixCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctorFix(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printSection("shoesnap doctor fix")
	fmt.Println("\n[ Cache temp files ]")

	store := gallery.NewStore(cfg.CacheDir)
	unlock, err := store.Lock(cmd.Context(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("cache is busy, retry when no build is running: %w", err)
	}
	defer unlock()

	stale := findStaleTemps(cfg.CacheDir)
	if len(stale) == 0 {
		printOK("", "no stale temp files found; nothing to fix")
		return nil
	}

	var failed int
	for _, p := range stale {
		if err := os.Remove(p); err != nil {
			printErr("", fmt.Sprintf("cannot delete %s: %v", p, err))
			failed++
		} else {
			printOK("", "deleted "+p)
		}
	}
	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be deleted", failed)
	}
	fmt.Printf("  ✓  %d temp file(s) removed.\n", len(stale))
	return nil
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("shoesnap doctor")
	fmt.Println()

	// ── Check 1: config ──────────────────────────────────────────────────────
	fmt.Println("[ Config ]")
	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath, _ = config.ConfigPath()
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		printWarn("", fmt.Sprintf("%s not found; using defaults", cfgPath))
	}
	cfg, loadErr := loadConfig()
	if loadErr != nil {
		failD("%v", loadErr)
	} else {
		printOK("", fmt.Sprintf("valid: %d model variant(s), search backend %s", len(cfg.Model.Variants), cfg.Search.Backend))
	}
	fmt.Println()
	if loadErr != nil {
		return fmt.Errorf("doctor found issues")
	}

	// ── Check 2: gallery directory ───────────────────────────────────────────
	fmt.Println("[ Gallery ]")
	files, err := gallery.List(cfg.GalleryDir)
	switch {
	case err != nil:
		failD("%v", err)
	default:
		images := 0
		for _, f := range files {
			if imaging.HasImageExt(f) {
				images++
			}
		}
		printOK("", fmt.Sprintf("%s: %d file(s), %d with an image extension", cfg.GalleryDir, len(files), images))
		if len(files) == 0 {
			printWarn("", "gallery is empty; lookalike search will return nothing (try 'shoesnap gallery import')")
		}
		if conflicts := findConflictFiles(files); len(conflicts) > 0 {
			for _, c := range conflicts {
				printWarn("", filepath.Base(c))
			}
			printInfo("", fmt.Sprintf("%d conflict cop(ies) from import; keep or delete them by hand, then re-index", len(conflicts)))
		}
	}
	fmt.Println()

	// ── Check 3: cache directory writable ────────────────────────────────────
	fmt.Println("[ Cache ]")
	if err := probeWritable(cfg.CacheDir); err != nil {
		failD("cache dir %s is not writable: %v", cfg.CacheDir, err)
	} else {
		printOK("", "writable: "+cfg.CacheDir)
		if stale := findStaleTemps(cfg.CacheDir); len(stale) > 0 {
			printWarn("", fmt.Sprintf("%d stale temp file(s); run 'shoesnap doctor fix'", len(stale)))
		}
	}
	fmt.Println()

	// ── Check 4: encoder server ──────────────────────────────────────────────
	fmt.Println("[ Encoder ]")
	client := embeddings.NewClipServer(embeddings.ClientConfig{
		BaseURL: cfg.Encoder.BaseURL,
		APIKey:  cfg.Encoder.APIKey,
		Timeout: cfg.Encoder.Timeout,
	})
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Encoder.Timeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		failD("encoder at %s unreachable: %v", cfg.Encoder.BaseURL, err)
	} else {
		printOK("", "reachable: "+cfg.Encoder.BaseURL)
		opened := 0
		for _, v := range cfg.Model.Variants {
			if _, spec, err := client.Open(ctx, v); err != nil {
				printWarn(v.ID(), err.Error())
			} else {
				printOK(v.ID(), fmt.Sprintf("dim %d, input %dpx", spec.Dim, spec.ImageSize))
				opened++
			}
		}
		if opened == 0 {
			failD("no configured variant can be opened")
		}
	}
	fmt.Println()

	// ── Summary ──────────────────────────────────────────────────────────────
	fmt.Println("===================")
	if allOK {
		fmt.Println("✓  All checks passed. shoesnap is ready to use.")
	} else {
		fmt.Fprintln(os.Stderr, "✗  One or more checks failed. See details above.")
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// probeWritable creates and removes a throwaway file in dir.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// findConflictFiles returns the paths written by 'gallery import' for name clashes.
func findConflictFiles(files []string) []string {
	var found []string
	for _, f := range files {
		if strings.Contains(filepath.Base(f), ".conflict-") {
			found = append(found, f)
		}
	}
	return found
}

// findStaleTemps lists the *.tmp files under every cache namespace.
func findStaleTemps(cacheDir string) []string {
	found, _ := filepath.Glob(filepath.Join(cacheDir, "*", "*.tmp"))
	return found
}
