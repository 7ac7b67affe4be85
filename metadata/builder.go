package metadata

import (
	"fmt"

	"github.com/cloudchase/tfmeta/errdefs"
)

// InputSpec holds the tunables of an image input tensor.
type InputSpec struct {
	Name        string
	Description string
	Width       int
	Height      int
	Channels    int
	Mean        []float32
	Std         []float32
	Min         float32
	Max         float32
}

// OutputSpec holds the tunables of a classification output tensor.
type OutputSpec struct {
	Name        string
	Description string
	ClassCount  int
	Min         float32
	Max         float32
	LabelFile   AssociatedFile
}

// BuildInputDescriptor returns an image TensorInfo carrying one normalization
// step and one value range. The width and height are recorded as given.
func BuildInputDescriptor(spec InputSpec) (TensorInfo, error) {
	if err := validateInput(spec); err != nil {
		return TensorInfo{}, err
	}

	colorSpace := ColorSpaceRGB
	if spec.Channels == 1 {
		colorSpace = ColorSpaceGrayscale
	}

	desc := spec.Description
	if desc == "" {
		desc = defaultInputDescription(spec)
	}

	return TensorInfo{
		Name:        spec.Name,
		Description: desc,
		Content: ImageProperties{
			ColorSpace: colorSpace,
			Width:      uint32(spec.Width),
			Height:     uint32(spec.Height),
		},
		ProcessUnits: []NormalizationStep{{
			Mean: cloneFloats(spec.Mean),
			Std:  cloneFloats(spec.Std),
		}},
		Stats: Stats{
			Min: []float32{spec.Min},
			Max: []float32{spec.Max},
		},
	}, nil
}

// BuildOutputDescriptor returns a feature-vector TensorInfo with one label file
// and the value range of the output scores.
func BuildOutputDescriptor(spec OutputSpec) (TensorInfo, error) {
	if err := validateOutput(spec); err != nil {
		return TensorInfo{}, err
	}

	desc := spec.Description
	if desc == "" {
		desc = fmt.Sprintf("Probabilities of the %d classes.", spec.ClassCount)
	}

	label := spec.LabelFile
	if label.Type == FileTypeUnknown {
		label.Type = FileTypeTensorAxisLabels
	}

	return TensorInfo{
		Name:        spec.Name,
		Description: desc,
		Content:     FeatureProperties{},
		Stats: Stats{
			Min: []float32{spec.Min},
			Max: []float32{spec.Max},
		},
		AssociatedFiles: []AssociatedFile{label},
	}, nil
}

// Assemble wraps the tensors into a single subgraph under the given model info.
// The result depends only on its arguments.
func Assemble(info ModelInfo, inputs, outputs []TensorInfo) (ModelMetadata, error) {
	if info.Name == "" {
		return ModelMetadata{}, fmt.Errorf("%w: model name is empty", errdefs.ErrMalformedConfiguration)
	}
	if len(inputs) == 0 {
		return ModelMetadata{}, fmt.Errorf("%w: at least one input tensor is required", errdefs.ErrMalformedConfiguration)
	}
	if len(outputs) == 0 {
		return ModelMetadata{}, fmt.Errorf("%w: at least one output tensor is required", errdefs.ErrMalformedConfiguration)
	}

	m := ModelMetadata{
		Info: info,
		Subgraphs: []SubgraphInfo{{
			Inputs:  cloneTensors(inputs),
			Outputs: cloneTensors(outputs),
		}},
		MinParserVersion: MinParserVersion,
	}
	if err := Validate(m); err != nil {
		return ModelMetadata{}, err
	}
	return m, nil
}

func defaultInputDescription(spec InputSpec) string {
	layout := "three channels (red, green, and blue)"
	if spec.Channels == 1 {
		layout = "one channel (grayscale)"
	}
	return fmt.Sprintf("Input image to be classified. The expected image is %d x %d, with "+
		"%s per pixel. Each value in the tensor is between %g and %g.",
		spec.Width, spec.Height, layout, spec.Min, spec.Max)
}

func cloneFloats(in []float32) []float32 {
	if in == nil {
		return nil
	}
	out := make([]float32, len(in))
	copy(out, in)
	return out
}

func cloneTensors(in []TensorInfo) []TensorInfo {
	out := make([]TensorInfo, len(in))
	for i, t := range in {
		c := t
		c.Stats = Stats{Min: cloneFloats(t.Stats.Min), Max: cloneFloats(t.Stats.Max)}
		if t.ProcessUnits != nil {
			c.ProcessUnits = make([]NormalizationStep, len(t.ProcessUnits))
			for j, pu := range t.ProcessUnits {
				c.ProcessUnits[j] = NormalizationStep{Mean: cloneFloats(pu.Mean), Std: cloneFloats(pu.Std)}
			}
		}
		if t.AssociatedFiles != nil {
			c.AssociatedFiles = append([]AssociatedFile(nil), t.AssociatedFiles...)
		}
		out[i] = c
	}
	return out
}
