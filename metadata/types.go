// Package metadata assembles the descriptor tree that is embedded in a TFLite
// model so mobile runtimes can configure pre- and post-processing on their own.
//
// Every type here is a plain value. The Build* functions copy the slices they
// are given, so a returned descriptor is never aliased by the caller.
package metadata

import "encoding/json"

// MinParserVersion is the oldest metadata parser able to read what this
// package produces.
const MinParserVersion = "1.0.0"

// ColorSpace describes how the channels of an image tensor are laid out.
type ColorSpace int8

const (
	ColorSpaceUnknown ColorSpace = iota
	ColorSpaceRGB
	ColorSpaceGrayscale
)

func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceRGB:
		return "RGB"
	case ColorSpaceGrayscale:
		return "GRAYSCALE"
	default:
		return "UNKNOWN"
	}
}

func (c ColorSpace) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// AssociatedFileType tags the role of a side-file bundled with the model.
type AssociatedFileType int8

const (
	FileTypeUnknown AssociatedFileType = iota
	FileTypeDescriptions
	FileTypeTensorAxisLabels
	FileTypeTensorValueLabels
	FileTypeTensorAxisScoreCalibration
	FileTypeVocabulary
)

func (t AssociatedFileType) String() string {
	switch t {
	case FileTypeDescriptions:
		return "DESCRIPTIONS"
	case FileTypeTensorAxisLabels:
		return "TENSOR_AXIS_LABELS"
	case FileTypeTensorValueLabels:
		return "TENSOR_VALUE_LABELS"
	case FileTypeTensorAxisScoreCalibration:
		return "TENSOR_AXIS_SCORE_CALIBRATION"
	case FileTypeVocabulary:
		return "VOCABULARY"
	default:
		return "UNKNOWN"
	}
}

func (t AssociatedFileType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ContentKind discriminates the ContentProperties variants.
type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentFeature
	ContentImage
)

func (k ContentKind) String() string {
	switch k {
	case ContentFeature:
		return "FeatureProperties"
	case ContentImage:
		return "ImageProperties"
	default:
		return "None"
	}
}

// ContentProperties is the semantic interpretation of a tensor's values.
// It is implemented by ImageProperties and FeatureProperties only.
type ContentProperties interface {
	Kind() ContentKind
	isContent()
}

// ImageProperties marks a tensor as a decoded image.
type ImageProperties struct {
	ColorSpace ColorSpace `json:"color_space"`
	Width      uint32     `json:"width"`
	Height     uint32     `json:"height"`
}

func (ImageProperties) Kind() ContentKind { return ContentImage }
func (ImageProperties) isContent()        {}

// FeatureProperties marks a tensor as a raw feature vector, e.g. class probabilities.
type FeatureProperties struct{}

func (FeatureProperties) Kind() ContentKind { return ContentFeature }
func (FeatureProperties) isContent()        {}

// NormalizationStep is (x - mean) / std applied to the raw input, per tensor
// or per channel depending on the slice lengths.
type NormalizationStep struct {
	Mean []float32 `json:"mean"`
	Std  []float32 `json:"std"`
}

// Stats is the value range of a tensor.
type Stats struct {
	Min []float32 `json:"min,omitempty"`
	Max []float32 `json:"max,omitempty"`
}

// AssociatedFile references a side-file packed into the model artifact.
type AssociatedFile struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Type        AssociatedFileType `json:"type"`
}

// TensorInfo describes one input or output tensor.
type TensorInfo struct {
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Content         ContentProperties   `json:"content,omitempty"`
	ProcessUnits    []NormalizationStep `json:"process_units,omitempty"`
	Stats           Stats               `json:"stats"`
	AssociatedFiles []AssociatedFile    `json:"associated_files,omitempty"`
}

// MarshalJSON adds the content variant name, which the interface value alone
// does not carry for FeatureProperties.
func (t TensorInfo) MarshalJSON() ([]byte, error) {
	type plain TensorInfo
	out := struct {
		plain
		ContentType string `json:"content_type,omitempty"`
	}{plain: plain(t)}
	if t.Content != nil {
		out.ContentType = t.Content.Kind().String()
	}
	return json.Marshal(out)
}

// SubgraphInfo groups the tensors of one execution graph.
type SubgraphInfo struct {
	Inputs  []TensorInfo `json:"input_tensor_metadata"`
	Outputs []TensorInfo `json:"output_tensor_metadata"`
}

// ModelInfo is the top-level provenance of a model.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`
}

// ModelMetadata is the root of the descriptor tree.
type ModelMetadata struct {
	Info             ModelInfo      `json:"info"`
	Subgraphs        []SubgraphInfo `json:"subgraph_metadata"`
	MinParserVersion string         `json:"min_parser_version,omitempty"`
}

// AssociatedFiles returns every associated file referenced anywhere in the
// tree, in tree order.
func (m ModelMetadata) AssociatedFiles() []AssociatedFile {
	var files []AssociatedFile
	for _, sg := range m.Subgraphs {
		for _, t := range sg.Inputs {
			files = append(files, t.AssociatedFiles...)
		}
		for _, t := range sg.Outputs {
			files = append(files, t.AssociatedFiles...)
		}
	}
	return files
}
