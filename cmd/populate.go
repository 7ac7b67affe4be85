package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudchase/tfmeta/populator"
	"github.com/cloudchase/tfmeta/registry"
)

var (
	populateOutput     string
	populateRegister   bool
	populateAs         string
	populateSkipShapes bool
)

var populateCmd = &cobra.Command{
	Use:   "populate <model.tflite>",
	Short: "Write metadata and the label file into a model",
	Long: `Build the metadata descriptor from configuration, serialize it and write it,
together with the label file, into the model. The model is rewritten in place
unless --output is given. Nothing is written if any check fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runPopulate,
}

func init() {
	f := populateCmd.Flags()
	f.String("labels", "", "Label file, one class per line (default labels.txt)")
	f.Int("width", 0, "Input image width")
	f.Int("height", 0, "Input image height")
	f.Int("classes", 0, "Number of output classes")
	f.String("name", "", "Model name")
	f.String("version", "", "Model version")
	f.String("author", "", "Model author")
	f.StringVarP(&populateOutput, "output", "o", "", "Write the populated model here instead of in place")
	f.BoolVar(&populateRegister, "register", false, "Register the populated model in the local registry")
	f.StringVar(&populateAs, "as", "", "Registry name (default: output file name without extension)")
	f.BoolVar(&populateSkipShapes, "skip-shape-check", false, "Do not compare metadata dimensions with tensor shapes")
}

func runPopulate(cmd *cobra.Command, args []string) error {
	res, err := populator.Run(args[0], appConfig, populator.Options{
		OutputPath:     populateOutput,
		SkipShapeCheck: populateSkipShapes,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "Populated %s\n", res.OutputPath)
	fmt.Fprintf(out, "  metadata: %d bytes\n", res.MetadataBytes)
	for _, f := range res.Files {
		fmt.Fprintf(out, "  packed:   %s\n", f)
	}

	if !populateRegister {
		return nil
	}
	name := populateAs
	if name == "" {
		name = registry.NameFromPath(res.OutputPath)
	}
	mgr, err := newManager()
	if err != nil {
		return err
	}
	if _, err := mgr.Register(name, res.OutputPath); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	logger.Info("artifact registered", zap.String("name", name), zap.String("path", res.OutputPath))
	fmt.Fprintf(out, "Registered as %s\n", name)
	return nil
}
