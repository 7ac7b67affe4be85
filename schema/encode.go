// Package schema serializes metadata descriptors in the TFLite metadata
// flatbuffer schema and parses them back.
package schema

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/cloudchase/tfmeta/fbs"
	"github.com/cloudchase/tfmeta/metadata"
)

// FileIdentifier is the 4-byte identifier metadata loaders look for.
const FileIdentifier = "M001"

// Union discriminators.
const (
	contentPropertiesNone    = 0
	contentPropertiesFeature = 1
	contentPropertiesImage   = 2

	processUnitNormalization = 1
)

// Field slots, in schema declaration order.
const (
	modelName             = 0
	modelDescription      = 1
	modelVersion          = 2
	modelSubgraphs        = 3
	modelAuthor           = 4
	modelLicense          = 5
	modelAssociatedFiles  = 6
	modelMinParserVersion = 7
	modelFieldCount       = 8

	subgraphInputs     = 2
	subgraphOutputs    = 3
	subgraphFieldCount = 4

	tensorName            = 0
	tensorDescription     = 1
	tensorContent         = 3
	tensorProcessUnits    = 4
	tensorStats           = 5
	tensorAssociatedFiles = 6
	tensorFieldCount      = 7

	contentPropertiesType = 0
	contentPropertiesData = 1
	contentFieldCount     = 2

	imageColorSpace  = 0
	imageDefaultSize = 1

	sizeWidth  = 0
	sizeHeight = 1

	processUnitOptionsType = 0
	processUnitOptions     = 1

	normalizationMean = 0
	normalizationStd  = 1

	statsMax = 0
	statsMin = 1

	fileName        = 0
	fileDescription = 1
	fileType        = 2
	fileFieldCount  = 3
)

// Marshal serializes m. The output is a pure function of the descriptor tree.
func Marshal(m metadata.ModelMetadata) ([]byte, error) {
	if err := metadata.Validate(m); err != nil {
		return nil, err
	}
	b := flatbuffers.NewBuilder(1024)
	root := writeModel(b, m)
	b.FinishWithFileIdentifier(root, []byte(FileIdentifier))

	out := b.FinishedBytes()
	buf := make([]byte, len(out))
	copy(buf, out)
	return buf, nil
}

func writeModel(b *flatbuffers.Builder, m metadata.ModelMetadata) flatbuffers.UOffsetT {
	subgraphs := make([]flatbuffers.UOffsetT, len(m.Subgraphs))
	for i, sg := range m.Subgraphs {
		subgraphs[i] = writeSubgraph(b, sg)
	}
	subgraphVec := fbs.OffsetVector(b, subgraphs)

	name := optString(b, m.Info.Name)
	desc := optString(b, m.Info.Description)
	version := optString(b, m.Info.Version)
	author := optString(b, m.Info.Author)
	license := optString(b, m.Info.License)
	minParser := optString(b, m.MinParserVersion)

	b.StartObject(modelFieldCount)
	b.PrependUOffsetTSlot(modelName, name, 0)
	b.PrependUOffsetTSlot(modelDescription, desc, 0)
	b.PrependUOffsetTSlot(modelVersion, version, 0)
	b.PrependUOffsetTSlot(modelSubgraphs, subgraphVec, 0)
	b.PrependUOffsetTSlot(modelAuthor, author, 0)
	b.PrependUOffsetTSlot(modelLicense, license, 0)
	b.PrependUOffsetTSlot(modelMinParserVersion, minParser, 0)
	return b.EndObject()
}

func writeSubgraph(b *flatbuffers.Builder, sg metadata.SubgraphInfo) flatbuffers.UOffsetT {
	inputs := writeTensors(b, sg.Inputs)
	outputs := writeTensors(b, sg.Outputs)

	b.StartObject(subgraphFieldCount)
	b.PrependUOffsetTSlot(subgraphInputs, inputs, 0)
	b.PrependUOffsetTSlot(subgraphOutputs, outputs, 0)
	return b.EndObject()
}

func writeTensors(b *flatbuffers.Builder, tensors []metadata.TensorInfo) flatbuffers.UOffsetT {
	if len(tensors) == 0 {
		return 0
	}
	offs := make([]flatbuffers.UOffsetT, len(tensors))
	for i, t := range tensors {
		offs[i] = writeTensor(b, t)
	}
	return fbs.OffsetVector(b, offs)
}

func writeTensor(b *flatbuffers.Builder, t metadata.TensorInfo) flatbuffers.UOffsetT {
	content := writeContent(b, t.Content)

	var units flatbuffers.UOffsetT
	if len(t.ProcessUnits) > 0 {
		offs := make([]flatbuffers.UOffsetT, len(t.ProcessUnits))
		for i, pu := range t.ProcessUnits {
			offs[i] = writeNormalization(b, pu)
		}
		units = fbs.OffsetVector(b, offs)
	}

	stats := writeStats(b, t.Stats)

	var files flatbuffers.UOffsetT
	if len(t.AssociatedFiles) > 0 {
		files = writeFiles(b, t.AssociatedFiles)
	}

	name := optString(b, t.Name)
	desc := optString(b, t.Description)

	b.StartObject(tensorFieldCount)
	b.PrependUOffsetTSlot(tensorName, name, 0)
	b.PrependUOffsetTSlot(tensorDescription, desc, 0)
	b.PrependUOffsetTSlot(tensorContent, content, 0)
	b.PrependUOffsetTSlot(tensorProcessUnits, units, 0)
	b.PrependUOffsetTSlot(tensorStats, stats, 0)
	b.PrependUOffsetTSlot(tensorAssociatedFiles, files, 0)
	return b.EndObject()
}

func writeContent(b *flatbuffers.Builder, c metadata.ContentProperties) flatbuffers.UOffsetT {
	if c == nil {
		return 0
	}

	var kind byte
	var props flatbuffers.UOffsetT
	switch p := c.(type) {
	case metadata.ImageProperties:
		kind = contentPropertiesImage
		props = writeImage(b, p)
	case metadata.FeatureProperties:
		kind = contentPropertiesFeature
		b.StartObject(0)
		props = b.EndObject()
	default:
		return 0
	}

	b.StartObject(contentFieldCount)
	b.PrependByteSlot(contentPropertiesType, kind, contentPropertiesNone)
	b.PrependUOffsetTSlot(contentPropertiesData, props, 0)
	return b.EndObject()
}

func writeImage(b *flatbuffers.Builder, img metadata.ImageProperties) flatbuffers.UOffsetT {
	var size flatbuffers.UOffsetT
	if img.Width != 0 || img.Height != 0 {
		b.StartObject(2)
		b.PrependUint32Slot(sizeWidth, img.Width, 0)
		b.PrependUint32Slot(sizeHeight, img.Height, 0)
		size = b.EndObject()
	}

	b.StartObject(2)
	b.PrependInt8Slot(imageColorSpace, int8(img.ColorSpace), 0)
	b.PrependUOffsetTSlot(imageDefaultSize, size, 0)
	return b.EndObject()
}

func writeNormalization(b *flatbuffers.Builder, n metadata.NormalizationStep) flatbuffers.UOffsetT {
	mean := fbs.Float32Vector(b, n.Mean)
	std := fbs.Float32Vector(b, n.Std)

	b.StartObject(2)
	b.PrependUOffsetTSlot(normalizationMean, mean, 0)
	b.PrependUOffsetTSlot(normalizationStd, std, 0)
	opts := b.EndObject()

	b.StartObject(2)
	b.PrependByteSlot(processUnitOptionsType, processUnitNormalization, 0)
	b.PrependUOffsetTSlot(processUnitOptions, opts, 0)
	return b.EndObject()
}

func writeStats(b *flatbuffers.Builder, s metadata.Stats) flatbuffers.UOffsetT {
	if len(s.Min) == 0 && len(s.Max) == 0 {
		return 0
	}
	var hi, lo flatbuffers.UOffsetT
	if len(s.Max) > 0 {
		hi = fbs.Float32Vector(b, s.Max)
	}
	if len(s.Min) > 0 {
		lo = fbs.Float32Vector(b, s.Min)
	}

	b.StartObject(2)
	b.PrependUOffsetTSlot(statsMax, hi, 0)
	b.PrependUOffsetTSlot(statsMin, lo, 0)
	return b.EndObject()
}

func writeFiles(b *flatbuffers.Builder, files []metadata.AssociatedFile) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(files))
	for i, f := range files {
		name := optString(b, f.Name)
		desc := optString(b, f.Description)

		b.StartObject(fileFieldCount)
		b.PrependUOffsetTSlot(fileName, name, 0)
		b.PrependUOffsetTSlot(fileDescription, desc, 0)
		b.PrependInt8Slot(fileType, int8(f.Type), 0)
		offs[i] = b.EndObject()
	}
	return fbs.OffsetVector(b, offs)
}

// optString skips empty strings so they decode back as absent.
func optString(b *flatbuffers.Builder, s string) flatbuffers.UOffsetT {
	if s == "" {
		return 0
	}
	return b.CreateString(s)
}
