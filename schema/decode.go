package schema

import (
	"fmt"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/fbs"
	"github.com/cloudchase/tfmeta/metadata"
)

// Unmarshal parses a metadata buffer produced by Marshal or any other writer
// of the same schema. Fields this package does not model are ignored.
func Unmarshal(buf []byte) (m metadata.ModelMetadata, err error) {
	if !fbs.HasIdentifier(buf, FileIdentifier) {
		return metadata.ModelMetadata{}, fmt.Errorf("%w: buffer does not carry the %q identifier",
			errdefs.ErrSchemaMismatch, FileIdentifier)
	}

	// Out-of-range offsets in a corrupt buffer surface as index panics.
	defer func() {
		if r := recover(); r != nil {
			m = metadata.ModelMetadata{}
			err = fmt.Errorf("%w: corrupt metadata buffer: %v", errdefs.ErrSchemaMismatch, r)
		}
	}()

	root := fbs.Root(buf)
	m = metadata.ModelMetadata{
		Info: metadata.ModelInfo{
			Name:        root.String(modelName),
			Description: root.String(modelDescription),
			Version:     root.String(modelVersion),
			Author:      root.String(modelAuthor),
			License:     root.String(modelLicense),
		},
		MinParserVersion: root.String(modelMinParserVersion),
	}
	for _, sg := range root.Tables(modelSubgraphs) {
		m.Subgraphs = append(m.Subgraphs, metadata.SubgraphInfo{
			Inputs:  readTensors(sg.Tables(subgraphInputs)),
			Outputs: readTensors(sg.Tables(subgraphOutputs)),
		})
	}
	return m, nil
}

func readTensors(tables []fbs.Table) []metadata.TensorInfo {
	if len(tables) == 0 {
		return nil
	}
	out := make([]metadata.TensorInfo, len(tables))
	for i, t := range tables {
		out[i] = readTensor(t)
	}
	return out
}

func readTensor(t fbs.Table) metadata.TensorInfo {
	ti := metadata.TensorInfo{
		Name:        t.String(tensorName),
		Description: t.String(tensorDescription),
	}
	if c, ok := t.Sub(tensorContent); ok {
		ti.Content = readContent(c)
	}
	for _, pu := range t.Tables(tensorProcessUnits) {
		if pu.Uint8(processUnitOptionsType, 0) != processUnitNormalization {
			continue
		}
		opts, ok := pu.Sub(processUnitOptions)
		if !ok {
			continue
		}
		ti.ProcessUnits = append(ti.ProcessUnits, metadata.NormalizationStep{
			Mean: opts.Float32s(normalizationMean),
			Std:  opts.Float32s(normalizationStd),
		})
	}
	if s, ok := t.Sub(tensorStats); ok {
		ti.Stats = metadata.Stats{
			Min: s.Float32s(statsMin),
			Max: s.Float32s(statsMax),
		}
	}
	ti.AssociatedFiles = readFiles(t.Tables(tensorAssociatedFiles))
	return ti
}

func readContent(c fbs.Table) metadata.ContentProperties {
	props, ok := c.Sub(contentPropertiesData)
	switch c.Uint8(contentPropertiesType, contentPropertiesNone) {
	case contentPropertiesFeature:
		return metadata.FeatureProperties{}
	case contentPropertiesImage:
		img := metadata.ImageProperties{}
		if !ok {
			return img
		}
		img.ColorSpace = metadata.ColorSpace(props.Int8(imageColorSpace, 0))
		if size, ok := props.Sub(imageDefaultSize); ok {
			img.Width = size.Uint32(sizeWidth, 0)
			img.Height = size.Uint32(sizeHeight, 0)
		}
		return img
	default:
		return nil
	}
}

func readFiles(tables []fbs.Table) []metadata.AssociatedFile {
	if len(tables) == 0 {
		return nil
	}
	out := make([]metadata.AssociatedFile, len(tables))
	for i, f := range tables {
		out[i] = metadata.AssociatedFile{
			Name:        f.String(fileName),
			Description: f.String(fileDescription),
			Type:        metadata.AssociatedFileType(f.Int8(fileType, 0)),
		}
	}
	return out
}
