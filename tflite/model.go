// Package tflite reads TFLite model containers and writes metadata into them.
//
// A container is a flatbuffer (file identifier "TFL3") optionally followed by
// a zip archive holding the associated files referenced from the metadata.
package tflite

import (
	"fmt"
	"os"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/fbs"
)

const (
	// FileIdentifier marks a TFLite model flatbuffer.
	FileIdentifier = "TFL3"

	// MetadataName is the Metadata entry under which runtimes look for the
	// metadata flatbuffer.
	MetadataName = "TFLITE_METADATA"
)

// Model field slots.
const (
	modelVersion        = 0
	modelOperatorCodes  = 1
	modelSubgraphs      = 2
	modelDescription    = 3
	modelBuffers        = 4
	modelMetadataBuffer = 5
	modelMetadata       = 6
	modelSignatureDefs  = 7
	modelFieldCount     = 8

	subgraphTensors = 0
	subgraphInputs  = 1
	subgraphOutputs = 2
	subgraphName    = 4

	tensorShape = 0
	tensorType  = 1
	tensorName  = 3

	bufferData   = 0
	bufferOffset = 1
	bufferSize   = 2

	metadataName   = 0
	metadataBuffer = 1
)

// TensorType is the element type of a model tensor.
type TensorType int8

const (
	TypeFloat32 TensorType = 0
	TypeFloat16 TensorType = 1
	TypeInt32   TensorType = 2
	TypeUint8   TensorType = 3
	TypeInt64   TensorType = 4
	TypeString  TensorType = 5
	TypeBool    TensorType = 6
	TypeInt16   TensorType = 7
	TypeInt8    TensorType = 9
	TypeFloat64 TensorType = 10
)

var tensorTypeNames = map[TensorType]string{
	TypeFloat32: "float32",
	TypeFloat16: "float16",
	TypeInt32:   "int32",
	TypeUint8:   "uint8",
	TypeInt64:   "int64",
	TypeString:  "string",
	TypeBool:    "bool",
	TypeInt16:   "int16",
	TypeInt8:    "int8",
	TypeFloat64: "float64",
}

func (t TensorType) String() string {
	if s, ok := tensorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int8(t))
}

// Tensor is a model input or output.
type Tensor struct {
	Name  string
	Shape []int32
	Type  TensorType
}

// Subgraph lists the input and output tensors of one execution graph.
type Subgraph struct {
	Name    string
	Inputs  []Tensor
	Outputs []Tensor
}

// MetadataEntry is a named reference from the model to one of its buffers.
type MetadataEntry struct {
	Name   string
	Buffer uint32
}

// Model is a parsed TFLite container.
type Model struct {
	Version     uint32
	Description string
	Subgraphs   []Subgraph
	Metadata    []MetadataEntry
	Files       []PackedFile

	raw       []byte
	flatLen   int
	buffers   []fbs.Table
	hasExtBuf bool
}

// Open reads and parses the model at path.
func Open(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: model %s", errdefs.ErrMissingInputFile, path)
		}
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Parse(data)
}

// Parse parses a model container held in memory. The returned Model keeps a
// reference to data.
func Parse(data []byte) (m *Model, err error) {
	if !fbs.HasIdentifier(data, FileIdentifier) {
		return nil, fmt.Errorf("%w: not a TFLite flatbuffer (missing %q identifier)",
			errdefs.ErrUnsupportedModel, FileIdentifier)
	}

	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: corrupt model flatbuffer: %v", errdefs.ErrUnsupportedModel, r)
		}
	}()

	files, start := readArchive(data)
	m = &Model{
		raw:     data,
		flatLen: int(start),
		Files:   files,
	}

	root := fbs.Root(data)
	m.Version = root.Uint32(modelVersion, 0)
	m.Description = root.String(modelDescription)

	for _, sg := range root.Tables(modelSubgraphs) {
		tensors := sg.Tables(subgraphTensors)
		lookup := func(indices []int32) ([]Tensor, error) {
			out := make([]Tensor, 0, len(indices))
			for _, i := range indices {
				if i < 0 || int(i) >= len(tensors) {
					return nil, fmt.Errorf("%w: tensor index %d out of range", errdefs.ErrUnsupportedModel, i)
				}
				t := tensors[i]
				out = append(out, Tensor{
					Name:  t.String(tensorName),
					Shape: t.Int32s(tensorShape),
					Type:  TensorType(t.Int8(tensorType, 0)),
				})
			}
			return out, nil
		}
		inputs, err := lookup(sg.Int32s(subgraphInputs))
		if err != nil {
			return nil, err
		}
		outputs, err := lookup(sg.Int32s(subgraphOutputs))
		if err != nil {
			return nil, err
		}
		m.Subgraphs = append(m.Subgraphs, Subgraph{
			Name:    sg.String(subgraphName),
			Inputs:  inputs,
			Outputs: outputs,
		})
	}

	m.buffers = root.Tables(modelBuffers)
	for _, b := range m.buffers {
		if b.Uint64(bufferOffset, 0) > 1 {
			m.hasExtBuf = true
		}
	}
	for _, e := range root.Tables(modelMetadata) {
		m.Metadata = append(m.Metadata, MetadataEntry{
			Name:   e.String(metadataName),
			Buffer: e.Uint32(metadataBuffer, 0),
		})
	}
	return m, nil
}

// Buffer returns the contents of buffer i. Buffers stored outside the
// flatbuffer are resolved against the whole file.
func (m *Model) Buffer(i uint32) ([]byte, error) {
	if int(i) >= len(m.buffers) {
		return nil, fmt.Errorf("%w: buffer %d out of range (%d buffers)", errdefs.ErrUnsupportedModel, i, len(m.buffers))
	}
	b := m.buffers[i]
	if off := b.Uint64(bufferOffset, 0); off > 1 {
		size := b.Uint64(bufferSize, 0)
		if off+size > uint64(len(m.raw)) {
			return nil, fmt.Errorf("%w: buffer %d exceeds file size", errdefs.ErrUnsupportedModel, i)
		}
		return m.raw[off : off+size], nil
	}
	return b.Blob(bufferData), nil
}

// MetadataBuffer returns the buffer registered under name, or nil if the model
// has no such entry.
func (m *Model) MetadataBuffer(name string) ([]byte, error) {
	for _, e := range m.Metadata {
		if e.Name == name {
			return m.Buffer(e.Buffer)
		}
	}
	return nil, nil
}

// File returns the packed associated file with the given name.
func (m *Model) File(name string) (PackedFile, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return PackedFile{}, false
}

// Size returns the size of the container in bytes.
func (m *Model) Size() int64 { return int64(len(m.raw)) }
