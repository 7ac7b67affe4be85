package schema

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/metadata"
)

func emotionMetadata(t *testing.T) metadata.ModelMetadata {
	t.Helper()

	in, err := metadata.BuildInputDescriptor(metadata.InputSpec{
		Name:     "image",
		Width:    150,
		Height:   150,
		Channels: 3,
		Mean:     []float32{0.5},
		Std:      []float32{0.5},
		Min:      0,
		Max:      255,
	})
	require.NoError(t, err)

	out, err := metadata.BuildOutputDescriptor(metadata.OutputSpec{
		Name:        "probability",
		Description: "Probabilities of the seven emotion classes.",
		ClassCount:  7,
		Min:         0,
		Max:         1,
		LabelFile: metadata.AssociatedFile{
			Name:        "labels.txt",
			Description: "Labels for emotions that the model can recognize.",
		},
	})
	require.NoError(t, err)

	m, err := metadata.Assemble(metadata.ModelInfo{
		Name:        "Emotion Classification Model",
		Description: "Classifies images into one of seven emotions.",
		Version:     "v1",
		Author:      "Ombati",
		License:     "Apache License. Version 2.0 http://www.apache.org/licenses/LICENSE-2.0.",
	}, []metadata.TensorInfo{in}, []metadata.TensorInfo{out})
	require.NoError(t, err)
	return m
}

func TestMarshal_FileIdentifier(t *testing.T) {
	buf, err := Marshal(emotionMetadata(t))
	require.NoError(t, err)
	require.Greater(t, len(buf), 8)
	assert.Equal(t, FileIdentifier, string(buf[4:8]))
}

func TestMarshal_Deterministic(t *testing.T) {
	first, err := Marshal(emotionMetadata(t))
	require.NoError(t, err)
	second, err := Marshal(emotionMetadata(t))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second), "serialization must be byte-identical")
}

func TestRoundTrip(t *testing.T) {
	want := emotionMetadata(t)
	buf, err := Marshal(want)
	require.NoError(t, err)

	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	in := got.Subgraphs[0].Inputs[0]
	img, ok := in.Content.(metadata.ImageProperties)
	require.True(t, ok)
	assert.Equal(t, metadata.ColorSpaceRGB, img.ColorSpace)
	assert.Equal(t, uint32(150), img.Width)
	assert.Equal(t, []float32{0.5}, in.ProcessUnits[0].Mean)

	out := got.Subgraphs[0].Outputs[0]
	assert.Equal(t, metadata.ContentFeature, out.Content.Kind())
	assert.Equal(t, metadata.FileTypeTensorAxisLabels, out.AssociatedFiles[0].Type)
}

func TestRoundTrip_PerChannelAndGrayscale(t *testing.T) {
	in, err := metadata.BuildInputDescriptor(metadata.InputSpec{
		Name:        "pixels",
		Description: "grayscale digits",
		Width:       28,
		Height:      28,
		Channels:    1,
		Mean:        []float32{127.5},
		Std:         []float32{127.5},
		Min:         -1,
		Max:         -1,
	})
	require.NoError(t, err)
	out, err := metadata.BuildOutputDescriptor(metadata.OutputSpec{
		Name:       "logits",
		ClassCount: 10,
		Min:        -3.5,
		Max:        12.25,
		LabelFile:  metadata.AssociatedFile{Name: "digits.txt"},
	})
	require.NoError(t, err)
	want, err := metadata.Assemble(metadata.ModelInfo{Name: "digits"}, []metadata.TensorInfo{in}, []metadata.TensorInfo{out})
	require.NoError(t, err)

	buf, err := Marshal(want)
	require.NoError(t, err)
	got, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMarshal_RejectsInvalidTree(t *testing.T) {
	_, err := Marshal(metadata.ModelMetadata{Info: metadata.ModelInfo{Name: "empty"}})
	assert.ErrorIs(t, err, errdefs.ErrSchemaMismatch)
}

func TestUnmarshal_WrongIdentifier(t *testing.T) {
	buf, err := Marshal(emotionMetadata(t))
	require.NoError(t, err)
	copy(buf[4:8], "TFL3")

	_, err = Unmarshal(buf)
	assert.ErrorIs(t, err, errdefs.ErrSchemaMismatch)

	_, err = Unmarshal([]byte{1, 2})
	assert.ErrorIs(t, err, errdefs.ErrSchemaMismatch)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0x0f, 'M', '0', '0', '1'}
	_, err := Unmarshal(buf)
	assert.ErrorIs(t, err, errdefs.ErrSchemaMismatch)
}
