// Package populator writes a metadata descriptor and its associated files into
// a TFLite model: load the model, load the metadata, load the files, populate.
package populator

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/metadata"
	"github.com/cloudchase/tfmeta/schema"
	"github.com/cloudchase/tfmeta/tflite"
)

// Populator holds everything needed for one populate run.
type Populator struct {
	modelPath string
	model     *tflite.Model
	opts      Options

	meta   *metadata.ModelMetadata
	buf    []byte
	files  []string
	labels map[string]int
}

// Result summarizes a successful run.
type Result struct {
	ModelPath     string
	OutputPath    string
	MetadataBytes int
	Files         []string
}

// New opens the model at modelPath. It fails with errdefs.ErrMissingInputFile
// if the file does not exist and errdefs.ErrUnsupportedModel if it is not a
// TFLite model.
func New(modelPath string, opts Options) (*Populator, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	model, err := tflite.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if len(model.Subgraphs) == 0 {
		return nil, fmt.Errorf("%w: model %s has no subgraphs", errdefs.ErrUnsupportedModel, modelPath)
	}
	opts.Logger.Debug("model loaded",
		zap.String("path", modelPath),
		zap.Uint32("version", model.Version),
		zap.Int("subgraphs", len(model.Subgraphs)))
	return &Populator{
		modelPath: modelPath,
		model:     model,
		opts:      opts,
		labels:    make(map[string]int),
	}, nil
}

// LoadMetadata serializes m and checks that it parses back to the same tree.
func (p *Populator) LoadMetadata(m metadata.ModelMetadata) error {
	buf, err := schema.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize metadata: %w", err)
	}
	back, err := schema.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("verify metadata: %w", err)
	}
	if !reflect.DeepEqual(back, m) {
		return fmt.Errorf("%w: serialized metadata does not parse back to the same descriptor", errdefs.ErrSchemaMismatch)
	}
	p.meta = &m
	p.buf = buf
	return nil
}

// LoadMetadataBuffer accepts an already serialized metadata buffer.
func (p *Populator) LoadMetadataBuffer(buf []byte) error {
	m, err := schema.Unmarshal(buf)
	if err != nil {
		return fmt.Errorf("load metadata buffer: %w", err)
	}
	if err := metadata.Validate(m); err != nil {
		return fmt.Errorf("load metadata buffer: %w", err)
	}
	p.meta = &m
	p.buf = append([]byte(nil), buf...)
	return nil
}

// LoadAssociatedFiles registers files to pack into the model. Files are packed
// under their base name, which must be unique. Label files are read so their
// length can be checked against the output tensor.
func (p *Populator) LoadAssociatedFiles(paths ...string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat associated file: %w", err)
		}
		if err != nil || info.IsDir() {
			return fmt.Errorf("%w: associated file %s", errdefs.ErrMissingInputFile, path)
		}
		name := filepath.Base(path)
		if _, dup := p.labels[name]; dup {
			return fmt.Errorf("%w: more than one associated file is named %q",
				errdefs.ErrMalformedConfiguration, name)
		}
		labels, err := ReadLabels(path)
		if err != nil {
			return err
		}
		p.labels[name] = len(labels)
		p.files = append(p.files, path)
	}
	return nil
}

// Populate cross-checks the metadata against the model and the loaded files,
// then writes the model. Nothing is written if a check fails.
func (p *Populator) Populate() (*Result, error) {
	if p.meta == nil {
		return nil, fmt.Errorf("%w: no metadata loaded", errdefs.ErrSchemaMismatch)
	}
	if err := p.checkFiles(); err != nil {
		return nil, err
	}
	if err := p.checkTensors(); err != nil {
		return nil, err
	}

	out := p.opts.OutputPath
	if out == "" {
		out = p.modelPath
	}
	err := tflite.Inject(p.modelPath, p.buf, p.files, tflite.InjectOptions{
		OutputPath: p.opts.OutputPath,
		Logger:     p.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("inject metadata: %w", err)
	}

	names := make([]string, len(p.files))
	for i, f := range p.files {
		names[i] = filepath.Base(f)
	}
	return &Result{
		ModelPath:     p.modelPath,
		OutputPath:    out,
		MetadataBytes: len(p.buf),
		Files:         names,
	}, nil
}

// checkFiles requires every file recorded in the metadata to be loaded. Loaded
// files the metadata does not mention are packed anyway.
func (p *Populator) checkFiles() error {
	loaded := make(map[string]bool, len(p.files))
	for _, f := range p.files {
		loaded[filepath.Base(f)] = true
	}
	recorded := make(map[string]bool)
	for _, f := range p.meta.AssociatedFiles() {
		recorded[f.Name] = true
		if !loaded[f.Name] {
			return fmt.Errorf("%w: file %q is recorded in the metadata but was not loaded",
				errdefs.ErrSchemaMismatch, f.Name)
		}
	}
	for name := range loaded {
		if !recorded[name] {
			p.opts.Logger.Warn("associated file is not recorded in the metadata; packing it anyway",
				zap.String("file", name))
		}
	}
	return nil
}

func (p *Populator) checkTensors() error {
	sgMeta := p.meta.Subgraphs[0]
	sgModel := p.model.Subgraphs[0]

	if len(sgMeta.Inputs) != len(sgModel.Inputs) {
		return fmt.Errorf("%w: model has %d input tensors but metadata describes %d",
			errdefs.ErrSchemaMismatch, len(sgModel.Inputs), len(sgMeta.Inputs))
	}
	if len(sgMeta.Outputs) != len(sgModel.Outputs) {
		return fmt.Errorf("%w: model has %d output tensors but metadata describes %d",
			errdefs.ErrSchemaMismatch, len(sgModel.Outputs), len(sgMeta.Outputs))
	}
	if p.opts.SkipShapeCheck {
		return nil
	}

	for i, ti := range sgMeta.Inputs {
		img, ok := ti.Content.(metadata.ImageProperties)
		if !ok {
			continue
		}
		if err := checkImageShape(img, sgModel.Inputs[i]); err != nil {
			return fmt.Errorf("input %q: %w", ti.Name, err)
		}
	}
	for i, ti := range sgMeta.Outputs {
		if ti.Content == nil || ti.Content.Kind() != metadata.ContentFeature {
			continue
		}
		classes := lastDim(sgModel.Outputs[i].Shape)
		for _, f := range ti.AssociatedFiles {
			if f.Type != metadata.FileTypeTensorAxisLabels || classes <= 0 {
				continue
			}
			if n := p.labels[f.Name]; n != classes {
				return fmt.Errorf("%w: output %q has %d classes but %s lists %d labels",
					errdefs.ErrSchemaMismatch, ti.Name, classes, f.Name, n)
			}
		}
	}
	return nil
}

// checkImageShape compares against an NHWC tensor. Other ranks and dynamic
// (-1) dimensions are not checked.
func checkImageShape(img metadata.ImageProperties, t tflite.Tensor) error {
	if len(t.Shape) != 4 {
		return nil
	}
	channels := 3
	if img.ColorSpace == metadata.ColorSpaceGrayscale {
		channels = 1
	}
	want := []int32{int32(img.Height), int32(img.Width), int32(channels)}
	for i, w := range want {
		got := t.Shape[i+1]
		if got > 0 && got != w {
			return fmt.Errorf("%w: tensor %s has shape %v, metadata expects %dx%dx%d",
				errdefs.ErrSchemaMismatch, t.Name, t.Shape, img.Height, img.Width, channels)
		}
	}
	return nil
}

func lastDim(shape []int32) int {
	if len(shape) == 0 {
		return 0
	}
	return int(shape[len(shape)-1])
}
