package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloudchase/tfmeta/schema"
	"github.com/cloudchase/tfmeta/tflite"
)

var extractDir string

var extractCmd = &cobra.Command{
	Use:   "extract <model>",
	Short: "Write the packed files and metadata of a model to a directory",
	Long: `Write every associated file packed into the model, plus the metadata
descriptor as metadata.json, to a directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractDir, "dir", "d", ".", "Destination directory")
}

func runExtract(cmd *cobra.Command, args []string) error {
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
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", extractDir, err)
	}

	out := cmd.OutOrStdout()
	for _, f := range model.Files {
		if f.Name != filepath.Base(f.Name) || strings.HasPrefix(f.Name, ".") {
			logger.Warn("skipping packed file with unsafe name", zap.String("file", f.Name))
			continue
		}
		dest := filepath.Join(extractDir, f.Name)
		if err := os.WriteFile(dest, f.Data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		fmt.Fprintln(out, dest)
	}

	buf, err := model.MetadataBuffer(tflite.MetadataName)
	if err != nil {
		return err
	}
	if buf == nil {
		logger.Warn("model has no metadata", zap.String("model", path))
		return nil
	}
	meta, err := schema.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("read embedded metadata: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	dest := filepath.Join(extractDir, "metadata.json")
	if err := os.WriteFile(dest, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	fmt.Fprintln(out, dest)
	return nil
}
