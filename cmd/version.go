package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/embeddings"
)

// Set via -ldflags at release time.
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var flagVersionJSON bool

type buildInfo struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"build_date"`
	GoVersion string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Variants  []string `json:"default_variants"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show shoesnap version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&flagVersionJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(_ *cobra.Command, _ []string) error {
	info := buildInfo{
		Version:   version,
		Commit:    emptyAsNA(commit),
		BuildDate: emptyAsNA(buildDate),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	for _, v := range embeddings.DefaultVariants {
		info.Variants = append(info.Variants, v.ID())
	}

	if flagVersionJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printKV("version", info.Version)
	printKV("commit", info.Commit)
	printKV("build date", info.BuildDate)
	printKV("go", info.GoVersion)
	printKV("os/arch", info.Platform)
	for i, v := range info.Variants {
		printKV(fmt.Sprintf("variant %d", i+1), v)
	}
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
