package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cloudchase/tfmeta/metadata"
	"github.com/cloudchase/tfmeta/schema"
	"github.com/cloudchase/tfmeta/tflite"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <model>",
	Short: "Show model tensors and embedded metadata",
	Long: `Display the tensors, embedded metadata and packed files of a model.
The model argument can be a registered name or a path to a .tflite file.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print the metadata descriptor as JSON")
}

func runInfo(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	path, err := mgr.ResolveModelPath(args[0])
	if err != nil {
		return err
	}
	model, err := tflite.Open(path)
	if err != nil {
		return err
	}

	var meta *metadata.ModelMetadata
	buf, err := model.MetadataBuffer(tflite.MetadataName)
	if err != nil {
		return err
	}
	if buf != nil {
		m, err := schema.Unmarshal(buf)
		if err != nil {
			return fmt.Errorf("read embedded metadata: %w", err)
		}
		meta = &m
	}

	out := cmd.OutOrStdout()
	if infoJSON {
		if meta == nil {
			return fmt.Errorf("%s has no %s entry", path, tflite.MetadataName)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}

	title := color.New(color.FgCyan, color.Bold)
	title.Fprintln(out, "Model")
	fmt.Fprintf(out, "  Path:        %s\n", path)
	fmt.Fprintf(out, "  Size:        %s\n", formatSize(model.Size()))
	fmt.Fprintf(out, "  Version:     %d\n", model.Version)
	if model.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", model.Description)
	}
	for i, sg := range model.Subgraphs {
		fmt.Fprintf(out, "  Subgraph %d\n", i)
		printTensors(out, "input ", sg.Inputs)
		printTensors(out, "output", sg.Outputs)
	}

	fmt.Fprintln(out)
	title.Fprintln(out, "Metadata")
	if meta == nil {
		fmt.Fprintln(out, "  none")
	} else {
		printMetadata(out, meta)
	}

	if len(model.Files) > 0 {
		fmt.Fprintln(out)
		title.Fprintln(out, "Packed files")
		for _, f := range model.Files {
			fmt.Fprintf(out, "  %s (%s)\n", f.Name, formatSize(int64(len(f.Data))))
		}
	}
	return nil
}

func printTensors(out io.Writer, kind string, ts []tflite.Tensor) {
	for _, t := range ts {
		fmt.Fprintf(out, "    %s %-28s %-8s %v\n", kind, t.Name, t.Type, t.Shape)
	}
}

func printMetadata(out io.Writer, m *metadata.ModelMetadata) {
	fmt.Fprintf(out, "  Name:        %s\n", m.Info.Name)
	if m.Info.Version != "" {
		fmt.Fprintf(out, "  Version:     %s\n", m.Info.Version)
	}
	if m.Info.Author != "" {
		fmt.Fprintf(out, "  Author:      %s\n", m.Info.Author)
	}
	if m.Info.License != "" {
		fmt.Fprintf(out, "  License:     %s\n", m.Info.License)
	}
	if m.MinParserVersion != "" {
		fmt.Fprintf(out, "  Min parser:  %s\n", m.MinParserVersion)
	}
	for _, sg := range m.Subgraphs {
		for _, t := range sg.Inputs {
			printTensorMetadata(out, "input ", t)
		}
		for _, t := range sg.Outputs {
			printTensorMetadata(out, "output", t)
		}
	}
}

func printTensorMetadata(out io.Writer, kind string, t metadata.TensorInfo) {
	fmt.Fprintf(out, "  %s %s\n", kind, t.Name)
	switch c := t.Content.(type) {
	case metadata.ImageProperties:
		fmt.Fprintf(out, "      image %dx%d %s\n", c.Width, c.Height, c.ColorSpace)
	case metadata.FeatureProperties:
		fmt.Fprintln(out, "      feature")
	}
	for _, pu := range t.ProcessUnits {
		fmt.Fprintf(out, "      normalize mean=%v std=%v\n", pu.Mean, pu.Std)
	}
	if len(t.Stats.Min) > 0 || len(t.Stats.Max) > 0 {
		fmt.Fprintf(out, "      range min=%v max=%v\n", t.Stats.Min, t.Stats.Max)
	}
	if len(t.AssociatedFiles) > 0 {
		names := make([]string, len(t.AssociatedFiles))
		for i, f := range t.AssociatedFiles {
			names[i] = fmt.Sprintf("%s (%s)", f.Name, f.Type)
		}
		fmt.Fprintf(out, "      files %s\n", strings.Join(names, ", "))
	}
}
