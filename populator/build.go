package populator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudchase/tfmeta/config"
	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/metadata"
)

// ReadLabels reads one label per line. Surrounding whitespace is trimmed and
// trailing blank lines are dropped; blank lines in between are an error since
// they would shift every later class index.
func ReadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: label file %s", errdefs.ErrMissingInputFile, path)
		}
		return nil, fmt.Errorf("open label file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read label file %s: %w", path, err)
	}

	for len(labels) > 0 && labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: label file %s has an empty label on line %d",
				errdefs.ErrMalformedConfiguration, path, i+1)
		}
	}
	return labels, nil
}

// BuildMetadata turns a configuration into a descriptor tree. The label file
// must exist and list exactly cfg.Output.Classes labels.
func BuildMetadata(cfg *config.Config) (metadata.ModelMetadata, error) {
	labels, err := ReadLabels(cfg.Labels.Path)
	if err != nil {
		return metadata.ModelMetadata{}, err
	}
	if len(labels) != cfg.Output.Classes {
		return metadata.ModelMetadata{}, fmt.Errorf("%w: %s lists %d labels but output.classes is %d",
			errdefs.ErrMalformedConfiguration, cfg.Labels.Path, len(labels), cfg.Output.Classes)
	}

	input, err := metadata.BuildInputDescriptor(metadata.InputSpec{
		Name:        cfg.Input.Name,
		Description: cfg.Input.Description,
		Width:       cfg.Input.Width,
		Height:      cfg.Input.Height,
		Channels:    cfg.Input.Channels,
		Mean:        cfg.Input.Mean,
		Std:         cfg.Input.Std,
		Min:         cfg.Input.Min,
		Max:         cfg.Input.Max,
	})
	if err != nil {
		return metadata.ModelMetadata{}, fmt.Errorf("input tensor: %w", err)
	}

	output, err := metadata.BuildOutputDescriptor(metadata.OutputSpec{
		Name:        cfg.Output.Name,
		Description: cfg.Output.Description,
		ClassCount:  cfg.Output.Classes,
		Min:         cfg.Output.Min,
		Max:         cfg.Output.Max,
		LabelFile: metadata.AssociatedFile{
			Name:        filepath.Base(cfg.Labels.Path),
			Description: cfg.Labels.Description,
			Type:        metadata.FileTypeTensorAxisLabels,
		},
	})
	if err != nil {
		return metadata.ModelMetadata{}, fmt.Errorf("output tensor: %w", err)
	}

	return metadata.Assemble(metadata.ModelInfo{
		Name:        cfg.Model.Name,
		Description: cfg.Model.Description,
		Version:     cfg.Model.Version,
		Author:      cfg.Model.Author,
		License:     cfg.Model.License,
	}, []metadata.TensorInfo{input}, []metadata.TensorInfo{output})
}

// Run performs a whole populate pass for cfg against the model at modelPath.
func Run(modelPath string, cfg *config.Config, opts Options) (*Result, error) {
	// Check every input exists before doing any work.
	if _, err := os.Stat(modelPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: model %s", errdefs.ErrMissingInputFile, modelPath)
		}
		return nil, fmt.Errorf("stat model: %w", err)
	}

	m, err := BuildMetadata(cfg)
	if err != nil {
		return nil, err
	}

	p, err := New(modelPath, opts)
	if err != nil {
		return nil, err
	}
	if err := p.LoadMetadata(m); err != nil {
		return nil, err
	}
	if err := p.LoadAssociatedFiles(cfg.Labels.Path); err != nil {
		return nil, err
	}
	return p.Populate()
}
