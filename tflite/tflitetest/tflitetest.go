// Package tflitetest builds small TFLite model flatbuffers for tests. The
// models have tensors, I/O lists, buffers and metadata entries but no operators.
package tflitetest

import (
	"os"
	"path/filepath"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/cloudchase/tfmeta/fbs"
)

// Tensor describes a tensor of the generated model.
type Tensor struct {
	Name  string
	Shape []int32
	Type  int8
}

// Model describes the generated model.
type Model struct {
	Description string
	Inputs      []Tensor
	Outputs     []Tensor
	// Metadata entries are stored as name -> buffer contents, in order.
	Metadata []Entry
}

// Entry is a named metadata buffer.
type Entry struct {
	Name string
	Data []byte
}

// Emotion returns a model shaped like the 150x150 RGB, 7-class emotion classifier.
func Emotion() Model {
	return Model{
		Description: "MLIR Converted.",
		Inputs:      []Tensor{{Name: "serving_default_input:0", Shape: []int32{1, 150, 150, 3}}},
		Outputs:     []Tensor{{Name: "StatefulPartitionedCall:0", Shape: []int32{1, 7}}},
		Metadata:    []Entry{{Name: "min_runtime_version", Data: []byte("1.5.0")}},
	}
}

// Build serializes m as a TFL3 flatbuffer.
func Build(m Model) []byte {
	b := flatbuffers.NewBuilder(1024)

	// Buffer 0 is the empty sentinel; metadata buffers follow.
	bufOffs := []flatbuffers.UOffsetT{emptyBuffer(b)}
	entryOffs := make([]flatbuffers.UOffsetT, 0, len(m.Metadata))
	for _, e := range m.Metadata {
		data := fbs.AlignedBytes(b, e.Data, 16)
		b.StartObject(3)
		b.PrependUOffsetTSlot(0, data, 0)
		bufOffs = append(bufOffs, b.EndObject())

		name := b.CreateString(e.Name)
		b.StartObject(2)
		b.PrependUOffsetTSlot(0, name, 0)
		b.PrependUint32Slot(1, uint32(len(bufOffs)-1), 0)
		entryOffs = append(entryOffs, b.EndObject())
	}

	tensors := append(append([]Tensor(nil), m.Inputs...), m.Outputs...)
	tensorOffs := make([]flatbuffers.UOffsetT, len(tensors))
	for i, t := range tensors {
		shape := fbs.Int32Vector(b, t.Shape)
		name := b.CreateString(t.Name)
		b.StartObject(4)
		b.PrependUOffsetTSlot(0, shape, 0)
		b.PrependInt8Slot(1, t.Type, 0)
		b.PrependUOffsetTSlot(3, name, 0)
		tensorOffs[i] = b.EndObject()
	}
	tensorVec := fbs.OffsetVector(b, tensorOffs)

	var inputs, outputs []int32
	for i := range m.Inputs {
		inputs = append(inputs, int32(i))
	}
	for i := range m.Outputs {
		outputs = append(outputs, int32(len(m.Inputs)+i))
	}
	inputVec := fbs.Int32Vector(b, inputs)
	outputVec := fbs.Int32Vector(b, outputs)
	sgName := b.CreateString("main")

	b.StartObject(5)
	b.PrependUOffsetTSlot(0, tensorVec, 0)
	b.PrependUOffsetTSlot(1, inputVec, 0)
	b.PrependUOffsetTSlot(2, outputVec, 0)
	b.PrependUOffsetTSlot(4, sgName, 0)
	subgraph := b.EndObject()
	subgraphVec := fbs.OffsetVector(b, []flatbuffers.UOffsetT{subgraph})

	bufferVec := fbs.OffsetVector(b, bufOffs)
	entryVec := fbs.OffsetVector(b, entryOffs)

	var desc flatbuffers.UOffsetT
	if m.Description != "" {
		desc = b.CreateString(m.Description)
	}

	b.StartObject(8)
	b.PrependUint32Slot(0, 3, 0)
	b.PrependUOffsetTSlot(2, subgraphVec, 0)
	b.PrependUOffsetTSlot(3, desc, 0)
	b.PrependUOffsetTSlot(4, bufferVec, 0)
	if len(entryOffs) > 0 {
		b.PrependUOffsetTSlot(6, entryVec, 0)
	}
	b.FinishWithFileIdentifier(b.EndObject(), []byte("TFL3"))

	out := b.FinishedBytes()
	return append([]byte(nil), out...)
}

// Write builds m and stores it as name under dir, returning the full path.
func Write(t testing.TB, dir, name string, m Model) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(m), 0o644); err != nil {
		t.Fatalf("write test model: %v", err)
	}
	return path
}

// WriteLabels writes one label per line and returns the file path.
func WriteLabels(t testing.TB, dir, name string, labels []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	for _, l := range labels {
		data = append(data, l...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	return path
}

// EmotionLabels are the seven classes of the emotion model.
var EmotionLabels = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

func emptyBuffer(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	b.StartObject(3)
	return b.EndObject()
}
