package tflite

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	flatbuffers "github.com/google/flatbuffers/go"
	"go.uber.org/zap"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/fbs"
)

// InjectOptions control where and how Inject writes the populated model.
type InjectOptions struct {
	// OutputPath receives the populated model. Empty means rewrite the input in place.
	OutputPath string
	Logger     *zap.Logger
}

// Inject stores metadataBuf in the model at modelPath and packs the files at
// filePaths into its trailing archive, keyed by base name. Previously packed
// files that are not replaced are kept.
//
// All inputs are checked before anything is written. The result is written to a
// temporary file next to the destination and renamed into place, so a failure
// never leaves a partially written model behind.
func Inject(modelPath string, metadataBuf []byte, filePaths []string, opts InjectOptions) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if err := requireFile(modelPath, "model"); err != nil {
		return err
	}
	seen := make(map[string]string, len(filePaths))
	for _, p := range filePaths {
		if err := requireFile(p, "associated file"); err != nil {
			return err
		}
		name := filepath.Base(p)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: associated files %s and %s are both packed as %q",
				errdefs.ErrMalformedConfiguration, prev, p, name)
		}
		seen[name] = p
	}

	model, err := Open(modelPath)
	if err != nil {
		return err
	}

	files := make([]PackedFile, 0, len(filePaths))
	for _, p := range filePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read associated file: %w", err)
		}
		files = append(files, PackedFile{Name: filepath.Base(p), Data: data})
	}

	out, err := Populate(model, metadataBuf, files)
	if err != nil {
		return err
	}

	dest := opts.OutputPath
	if dest == "" {
		dest = modelPath
	}
	if err := writeFileAtomic(dest, out, modelPath); err != nil {
		return err
	}

	log.Info("metadata injected",
		zap.String("model", modelPath),
		zap.String("output", dest),
		zap.Int("metadata_bytes", len(metadataBuf)),
		zap.Int("associated_files", len(files)),
		zap.Int("size", len(out)))
	return nil
}

// Populate returns a new container holding model's flatbuffer with metadataBuf
// registered under MetadataName, followed by an archive of the merged files.
func Populate(model *Model, metadataBuf []byte, files []PackedFile) ([]byte, error) {
	if model.hasExtBuf {
		return nil, fmt.Errorf("%w: model stores buffers outside the flatbuffer", errdefs.ErrUnsupportedModel)
	}

	flat, err := rewrite(baseModel(model.raw[:model.flatLen]), metadataBuf)
	if err != nil {
		return nil, err
	}

	merged := mergeFiles(model.Files, files)
	if len(merged) == 0 {
		return flat, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(flat))
	buf.Write(flat)
	if err := writeArchive(&buf, int64(len(flat)), merged); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mergeFiles keeps the order of existing files, replaces those with a new
// version and appends the rest. The last of several added files with the same
// name wins.
func mergeFiles(existing, added []PackedFile) []PackedFile {
	byName := make(map[string]PackedFile, len(added))
	for _, f := range added {
		byName[f.Name] = f
	}
	out := make([]PackedFile, 0, len(existing)+len(added))
	for _, f := range existing {
		if nf, ok := byName[f.Name]; ok {
			out = append(out, nf)
			delete(byName, f.Name)
			continue
		}
		out = append(out, f)
	}
	for _, f := range added {
		if nf, ok := byName[f.Name]; ok {
			out = append(out, nf)
			delete(byName, f.Name)
		}
	}
	return out
}

// Model fields a rewrite references in place.
var keptSlots = []int{modelOperatorCodes, modelSubgraphs, modelDescription, modelMetadataBuffer, modelSignatureDefs}

// baseModel returns the model an earlier rewrite started from, or flat itself.
// rewrite keeps its input intact at the tail of its output, so repopulating
// from that copy drops the previous metadata buffer instead of stacking it.
func baseModel(flat []byte) []byte {
	root := fbs.Root(flat)
	subgraphs, ok := root.Target(modelSubgraphs)
	if !ok {
		return flat
	}
	// The embedded copy starts with its own root offset and identifier and
	// lies before every subtree it shares with the outer model.
	for p := (int(subgraphs) - 8) &^ 3; p >= 8; p -= 4 {
		if string(flat[p+4:p+8]) != FileIdentifier {
			continue
		}
		if rewrittenFrom(flat, root, p) {
			return flat[p:]
		}
	}
	return flat
}

// rewrittenFrom reports whether root is what rewrite produces from the model
// embedded at p: the same kept subtrees, buffers and metadata entries, apart
// from the TFLITE_METADATA entry and its buffer.
func rewrittenFrom(flat []byte, root fbs.Table, p int) (ok bool) {
	// The candidate may be arbitrary bytes.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	pos := flatbuffers.UOffsetT(p) + flatbuffers.GetUOffsetT(flat[p:])
	if int(pos) >= len(flat) {
		return false
	}
	base := fbs.At(flat, pos)
	if base.Uint32(modelVersion, 0) != root.Uint32(modelVersion, 0) {
		return false
	}
	for _, slot := range keptSlots {
		a, hasA := root.Target(slot)
		b, hasB := base.Target(slot)
		if hasA != hasB || a != b {
			return false
		}
	}

	target := -1
	var entries, baseEntries []flatbuffers.UOffsetT
	for _, e := range root.Tables(modelMetadata) {
		if e.String(metadataName) == MetadataName {
			target = int(e.Uint32(metadataBuffer, 0))
			continue
		}
		entries = append(entries, e.Pos)
	}
	if target < 0 {
		return false
	}
	for _, e := range base.Tables(modelMetadata) {
		if e.String(metadataName) != MetadataName {
			baseEntries = append(baseEntries, e.Pos)
		}
	}
	if len(entries) != len(baseEntries) {
		return false
	}
	for i := range entries {
		if entries[i] != baseEntries[i] {
			return false
		}
	}

	buffers := root.Tables(modelBuffers)
	baseBuffers := base.Tables(modelBuffers)
	if len(buffers) < len(baseBuffers) {
		return false
	}
	for i, b := range buffers {
		switch {
		case i == target:
		case i < len(baseBuffers):
			if b.Pos != baseBuffers[i].Pos {
				return false
			}
		case len(baseBuffers) == 0 && i == 0:
			// Sentinel added for a model without buffers.
		default:
			return false
		}
	}
	return true
}

// rewrite builds a new Model table in front of the original flatbuffer bytes.
// Untouched subtrees are referenced in place; only the buffers and metadata
// vectors are rebuilt.
func rewrite(flat []byte, metadataBuf []byte) ([]byte, error) {
	root := fbs.Root(flat)
	for slot := modelFieldCount; slot < root.Slots(); slot++ {
		if root.Has(slot) {
			return nil, fmt.Errorf("%w: model uses unknown field %d", errdefs.ErrUnsupportedModel, slot)
		}
	}

	buffers := root.Tables(modelBuffers)
	entries := root.Tables(modelMetadata)

	target := -1
	for _, e := range entries {
		if e.String(metadataName) == MetadataName {
			target = int(e.Uint32(metadataBuffer, 0))
			break
		}
	}
	// Buffer 0 is the empty sentinel tensors without data point at.
	if target == 0 || target >= len(buffers) {
		target = -1
	}

	b := flatbuffers.NewBuilder(len(flat) + len(metadataBuf) + 1024)

	// Keep the original bytes at a 16-byte aligned position so every aligned
	// buffer inside them stays aligned.
	b.Prep(16, len(flat))
	b.Pad(len(flat))
	copy(b.Bytes[b.Head():], flat)
	base := b.Offset()
	ref := func(pos flatbuffers.UOffsetT) flatbuffers.UOffsetT { return base - pos }

	data := fbs.AlignedBytes(b, metadataBuf, 16)
	b.StartObject(3)
	b.PrependUOffsetTSlot(bufferData, data, 0)
	metaBuffer := b.EndObject()

	var bufOffs []flatbuffers.UOffsetT
	if len(buffers) == 0 {
		b.StartObject(3)
		bufOffs = append(bufOffs, b.EndObject())
	}
	for i, t := range buffers {
		if i == target {
			bufOffs = append(bufOffs, metaBuffer)
			continue
		}
		bufOffs = append(bufOffs, ref(t.Pos))
	}
	index := target
	if index < 0 {
		index = len(bufOffs)
		bufOffs = append(bufOffs, metaBuffer)
	}
	bufferVec := fbs.OffsetVector(b, bufOffs)

	name := b.CreateString(MetadataName)
	b.StartObject(2)
	b.PrependUOffsetTSlot(metadataName, name, 0)
	b.PrependUint32Slot(metadataBuffer, uint32(index), 0)
	entry := b.EndObject()

	entryOffs := make([]flatbuffers.UOffsetT, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.String(metadataName) == MetadataName {
			if !replaced {
				entryOffs = append(entryOffs, entry)
				replaced = true
			}
			continue
		}
		entryOffs = append(entryOffs, ref(e.Pos))
	}
	if !replaced {
		entryOffs = append(entryOffs, entry)
	}
	entryVec := fbs.OffsetVector(b, entryOffs)

	b.StartObject(modelFieldCount)
	b.PrependUint32Slot(modelVersion, root.Uint32(modelVersion, 0), 0)
	for _, slot := range keptSlots {
		if pos, ok := root.Target(slot); ok {
			b.PrependUOffsetTSlot(slot, ref(pos), 0)
		}
	}
	b.PrependUOffsetTSlot(modelBuffers, bufferVec, 0)
	b.PrependUOffsetTSlot(modelMetadata, entryVec, 0)
	b.FinishWithFileIdentifier(b.EndObject(), []byte(FileIdentifier))

	return b.FinishedBytes(), nil
}

func requireFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %s", errdefs.ErrMissingInputFile, what, path)
		}
		return fmt.Errorf("stat %s: %w", what, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s %s is a directory", errdefs.ErrMissingInputFile, what, path)
	}
	return nil
}

// writeFileAtomic writes data to dest through a temporary file in the same
// directory. modeFrom supplies the permission bits when it exists.
func writeFileAtomic(dest string, data []byte, modeFrom string) error {
	perm := os.FileMode(0o644)
	if info, statErr := os.Stat(modeFrom); statErr == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync model: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	committed = true
	return nil
}
