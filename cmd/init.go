package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the gallery and cache directories",
	Long: `Initialise ~/.shoesnap/.

Writes shoesnap.yaml with the built-in defaults (unless one already exists),
a .env template for the encoder URL and API key, and creates the configured
gallery and cache directories. Running it again is safe.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	printSection("shoesnap init")

	cfgPath := flagConfigPath
	if cfgPath == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}

	if _, err := os.Stat(cfgPath); err == nil {
		printSkip("config", "exists: "+cfgPath)
	} else if os.IsNotExist(err) {
		if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
			return err
		}
		printOK("config", "written: "+cfgPath)
	} else {
		return fmt.Errorf("cannot stat %s: %w", cfgPath, err)
	}

	if err := config.EnsureDotEnvTemplate(); err != nil {
		return err
	}
	envPath, _ := config.DotEnvPath()
	printOK(".env", envPath)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, d := range []struct{ name, path string }{
		{"gallery", cfg.GalleryDir},
		{"cache", cfg.CacheDir},
	} {
		if err := os.MkdirAll(d.path, 0o755); err != nil {
			return fmt.Errorf("cannot create %s dir: %w", d.name, err)
		}
		printOK(d.name, d.path)
	}

	fmt.Println()
	printInfo("", "next: 'shoesnap gallery import <dir>' then 'shoesnap index'")
	return nil
}
