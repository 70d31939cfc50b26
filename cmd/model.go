package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kamusis/shoesnap/internal/embeddings"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect the image/text encoder",
}

var modelCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the encoder through the variant fallback list and report the result",
	Args:  cobra.NoArgs,
	RunE:  runModelCheck,
}

func init() {
	modelCmd.AddCommand(modelCheckCmd)
	rootCmd.AddCommand(modelCmd)
}

func runModelCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess := newSession(cfg)

	printSection("shoesnap model check")
	printKV("encoder", cfg.Encoder.BaseURL)
	for i, v := range cfg.Model.Variants {
		printKV(fmt.Sprintf("variant %d", i+1), v.ID())
	}
	fmt.Println()

	m, err := sess.LoadModel(cmd.Context())
	if err != nil {
		var unavailable *embeddings.ModelUnavailableError
		if errors.As(err, &unavailable) {
			for _, a := range unavailable.Attempts {
				printErr(a.Variant.ID(), a.Err.Error())
			}
		}
		return err
	}
	printOK(m.ModelID(), fmt.Sprintf("loaded (dim %d, input %dpx)", m.Dim(), m.Preprocessor().Size))
	return nil
}
