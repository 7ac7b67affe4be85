package tflite

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/tflite/tflitetest"
)

func TestParse_EmotionModel(t *testing.T) {
	m, err := Parse(tflitetest.Build(tflitetest.Emotion()))
	require.NoError(t, err)

	assert.Equal(t, uint32(3), m.Version)
	assert.Equal(t, "MLIR Converted.", m.Description)
	require.Len(t, m.Subgraphs, 1)
	require.Len(t, m.Subgraphs[0].Inputs, 1)
	require.Len(t, m.Subgraphs[0].Outputs, 1)
	assert.Equal(t, []int32{1, 150, 150, 3}, m.Subgraphs[0].Inputs[0].Shape)
	assert.Equal(t, []int32{1, 7}, m.Subgraphs[0].Outputs[0].Shape)
	assert.Equal(t, TypeFloat32, m.Subgraphs[0].Inputs[0].Type)

	buf, err := m.MetadataBuffer("min_runtime_version")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", string(buf))

	buf, err = m.MetadataBuffer(MetadataName)
	require.NoError(t, err)
	assert.Nil(t, buf)
	assert.Empty(t, m.Files)
}

func TestParse_NotTFLite(t *testing.T) {
	_, err := Parse([]byte("PK\x03\x04 definitely not a model"))
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedModel)

	_, err = Parse(nil)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedModel)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.tflite"))
	assert.ErrorIs(t, err, errdefs.ErrMissingInputFile)
}

func TestInject_MetadataAndLabels(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	labels := tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	meta := []byte("0000M001 pretend metadata")

	require.NoError(t, Inject(modelPath, meta, []string{labels}, InjectOptions{}))

	m, err := Open(modelPath)
	require.NoError(t, err)

	got, err := m.MetadataBuffer(MetadataName)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	// Existing entries and the graph survive the rewrite.
	rt, err := m.MetadataBuffer("min_runtime_version")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", string(rt))
	assert.Equal(t, "MLIR Converted.", m.Description)
	assert.Equal(t, []int32{1, 150, 150, 3}, m.Subgraphs[0].Inputs[0].Shape)

	f, ok := m.File("labels.txt")
	require.True(t, ok)
	assert.Equal(t, "angry\ndisgust\nfear\nhappy\nneutral\nsad\nsurprise\n", string(f.Data))
}

func TestInject_MetadataBufferIsAligned(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	meta := bytes.Repeat([]byte{0xAB}, 37)

	require.NoError(t, Inject(modelPath, meta, nil, InjectOptions{}))

	raw, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	m, err := Parse(raw)
	require.NoError(t, err)
	got, err := m.MetadataBuffer(MetadataName)
	require.NoError(t, err)

	start := bytes.Index(raw, got)
	require.GreaterOrEqual(t, start, 0)
	assert.Zero(t, start%16, "metadata buffer must start on a 16-byte boundary")
}

func TestInject_ReplacesExistingMetadata(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	labels := tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	vocab := tflitetest.WriteLabels(t, dir, "vocab.txt", []string{"a", "b"})

	require.NoError(t, Inject(modelPath, []byte("first"), []string{labels, vocab}, InjectOptions{}))
	first, err := Open(modelPath)
	require.NoError(t, err)

	relabeled := tflitetest.WriteLabels(t, t.TempDir(), "labels.txt", []string{"x"})
	require.NoError(t, Inject(modelPath, []byte("second"), []string{relabeled}, InjectOptions{}))

	m, err := Open(modelPath)
	require.NoError(t, err)

	got, err := m.MetadataBuffer(MetadataName)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	count := 0
	for _, e := range m.Metadata {
		if e.Name == MetadataName {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, m.buffers, len(first.buffers), "existing metadata buffer is reused")

	require.Len(t, m.Files, 2)
	assert.Equal(t, "labels.txt", m.Files[0].Name)
	assert.Equal(t, "x\n", string(m.Files[0].Data))
	assert.Equal(t, "vocab.txt", m.Files[1].Name)
}

func TestInject_ArchiveIsStored(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	labels := tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	require.NoError(t, Inject(modelPath, []byte("meta"), []string{labels}, InjectOptions{}))

	zr, err := zip.OpenReader(modelPath)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, zip.Store, zr.File[0].Method)
}

func TestInject_OutputPath(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	before, err := os.ReadFile(modelPath)
	require.NoError(t, err)

	out := filepath.Join(dir, "model_with_metadata.tflite")
	require.NoError(t, Inject(modelPath, []byte("meta"), nil, InjectOptions{OutputPath: out}))

	after, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "input must be untouched when an output path is given")

	m, err := Open(out)
	require.NoError(t, err)
	got, err := m.MetadataBuffer(MetadataName)
	require.NoError(t, err)
	assert.Equal(t, "meta", string(got))
}

func TestInject_MissingModel(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.tflite")

	err := Inject(missing, []byte("meta"), nil, InjectOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrMissingInputFile)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written")
}

func TestInject_MissingAssociatedFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	before, err := os.ReadFile(modelPath)
	require.NoError(t, err)

	err = Inject(modelPath, []byte("meta"), []string{filepath.Join(dir, "labels.txt")}, InjectOptions{})
	assert.ErrorIs(t, err, errdefs.ErrMissingInputFile)

	after, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInject_NotAModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.h5")
	require.NoError(t, os.WriteFile(path, []byte("\x89HDF\r\n\x1a\n...."), 0o644))

	err := Inject(path, []byte("meta"), nil, InjectOptions{})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedModel)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file may be left behind")
}

func TestMergeFiles(t *testing.T) {
	existing := []PackedFile{{Name: "a", Data: []byte("1")}, {Name: "b", Data: []byte("2")}}
	added := []PackedFile{{Name: "c", Data: []byte("3")}, {Name: "a", Data: []byte("4")}}

	got := mergeFiles(existing, added)
	assert.Equal(t, []PackedFile{
		{Name: "a", Data: []byte("4")},
		{Name: "b", Data: []byte("2")},
		{Name: "c", Data: []byte("3")},
	}, got)
}

func TestMergeFiles_LastDuplicateWins(t *testing.T) {
	added := []PackedFile{{Name: "a", Data: []byte("1")}, {Name: "a", Data: []byte("2")}}
	assert.Equal(t, []PackedFile{{Name: "a", Data: []byte("2")}}, mergeFiles(nil, added))
}

func TestInject_DuplicateFileNames(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	first := tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	second := tflitetest.WriteLabels(t, t.TempDir(), "labels.txt", []string{"x"})
	before, err := os.ReadFile(modelPath)
	require.NoError(t, err)

	err = Inject(modelPath, []byte("meta"), []string{first, second}, InjectOptions{})
	assert.ErrorIs(t, err, errdefs.ErrMalformedConfiguration)

	after, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInject_RepeatedRunsKeepSize(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())
	labels := tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)

	var outputs [][]byte
	for i := 0; i < 3; i++ {
		require.NoError(t, Inject(modelPath, []byte("0000M001 metadata"), []string{labels}, InjectOptions{}))
		data, err := os.ReadFile(modelPath)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.Len(t, outputs[1], len(outputs[0]))
	assert.Equal(t, outputs[0], outputs[1], "repopulating with the same inputs is a no-op")
	assert.Equal(t, outputs[0], outputs[2])

	m, err := Open(modelPath)
	require.NoError(t, err)
	rt, err := m.MetadataBuffer("min_runtime_version")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", string(rt))
	assert.Equal(t, []int32{1, 7}, m.Subgraphs[0].Outputs[0].Shape)
}

func TestInject_RepopulateDropsOldMetadata(t *testing.T) {
	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "model.tflite", tflitetest.Emotion())

	require.NoError(t, Inject(modelPath, bytes.Repeat([]byte("a"), 4096), nil, InjectOptions{}))
	big, err := os.Stat(modelPath)
	require.NoError(t, err)

	require.NoError(t, Inject(modelPath, []byte("small"), nil, InjectOptions{}))
	small, err := os.Stat(modelPath)
	require.NoError(t, err)
	assert.Less(t, small.Size(), big.Size()-4000)

	m, err := Open(modelPath)
	require.NoError(t, err)
	got, err := m.MetadataBuffer(MetadataName)
	require.NoError(t, err)
	assert.Equal(t, "small", string(got))
	assert.NotContains(t, string(m.raw), "aaaa")
}

func TestBaseModel_PlainModelIsItself(t *testing.T) {
	flat := tflitetest.Build(tflitetest.Emotion())
	assert.Equal(t, flat, baseModel(flat))
}
