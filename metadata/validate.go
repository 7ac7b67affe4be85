package metadata

import (
	"fmt"
	"math"

	"github.com/cloudchase/tfmeta/errdefs"
)

func validateInput(spec InputSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: input tensor name is empty", errdefs.ErrMalformedConfiguration)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return fmt.Errorf("%w: image size must be positive, got %dx%d",
			errdefs.ErrMalformedConfiguration, spec.Width, spec.Height)
	}
	if spec.Channels != 1 && spec.Channels != 3 {
		return fmt.Errorf("%w: channel count must be 1 or 3, got %d",
			errdefs.ErrMalformedConfiguration, spec.Channels)
	}
	if err := validateNormalization(spec.Mean, spec.Std, spec.Channels); err != nil {
		return err
	}
	return validateRange(spec.Min, spec.Max)
}

func validateOutput(spec OutputSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: output tensor name is empty", errdefs.ErrMalformedConfiguration)
	}
	if spec.ClassCount <= 0 {
		return fmt.Errorf("%w: class count must be positive, got %d",
			errdefs.ErrMalformedConfiguration, spec.ClassCount)
	}
	if spec.LabelFile.Name == "" {
		return fmt.Errorf("%w: label file name is empty", errdefs.ErrMalformedConfiguration)
	}
	return validateRange(spec.Min, spec.Max)
}

// validateNormalization accepts one value per tensor or one value per channel.
func validateNormalization(mean, std []float32, channels int) error {
	if len(mean) == 0 || len(std) == 0 {
		return fmt.Errorf("%w: normalization mean and std must not be empty", errdefs.ErrMalformedConfiguration)
	}
	if len(mean) != len(std) {
		return fmt.Errorf("%w: normalization mean has %d values but std has %d",
			errdefs.ErrMalformedConfiguration, len(mean), len(std))
	}
	if len(mean) != 1 && len(mean) != channels {
		return fmt.Errorf("%w: normalization needs 1 or %d values, got %d",
			errdefs.ErrMalformedConfiguration, channels, len(mean))
	}
	for i, m := range mean {
		if !finite(m) {
			return fmt.Errorf("%w: normalization mean[%d] must be finite, got %g", errdefs.ErrMalformedConfiguration, i, m)
		}
	}
	for i, s := range std {
		if s == 0 || !finite(s) {
			return fmt.Errorf("%w: normalization std[%d] must be finite and non-zero, got %g",
				errdefs.ErrMalformedConfiguration, i, s)
		}
	}
	return nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// validateRange allows min == max, which describes a constant tensor.
func validateRange(lo, hi float32) error {
	if math.IsNaN(float64(lo)) || math.IsNaN(float64(hi)) {
		return fmt.Errorf("%w: value range contains NaN", errdefs.ErrMalformedConfiguration)
	}
	if lo > hi {
		return fmt.Errorf("%w: value range min %g is greater than max %g", errdefs.ErrMalformedConfiguration, lo, hi)
	}
	return nil
}

// Validate checks that a descriptor tree has the shape the runtime's metadata
// loader expects.
func Validate(m ModelMetadata) error {
	if len(m.Subgraphs) != 1 {
		return fmt.Errorf("%w: expected exactly one subgraph, got %d", errdefs.ErrSchemaMismatch, len(m.Subgraphs))
	}
	seen := make(map[string]bool)
	sg := m.Subgraphs[0]
	for _, group := range []struct {
		role    string
		tensors []TensorInfo
	}{{"input", sg.Inputs}, {"output", sg.Outputs}} {
		for i, t := range group.tensors {
			if err := validateTensor(t); err != nil {
				return fmt.Errorf("%s tensor %d: %w", group.role, i, err)
			}
			for _, f := range t.AssociatedFiles {
				if seen[f.Name] {
					return fmt.Errorf("%w: associated file %q is referenced twice", errdefs.ErrSchemaMismatch, f.Name)
				}
				seen[f.Name] = true
			}
		}
	}
	return nil
}

func validateTensor(t TensorInfo) error {
	if t.Content == nil {
		return fmt.Errorf("%w: tensor %q has no content properties", errdefs.ErrSchemaMismatch, t.Name)
	}
	if img, ok := t.Content.(ImageProperties); ok && img.ColorSpace == ColorSpaceUnknown {
		return fmt.Errorf("%w: image tensor %q has no color space", errdefs.ErrSchemaMismatch, t.Name)
	}
	if len(t.Stats.Min) != len(t.Stats.Max) {
		return fmt.Errorf("%w: tensor %q has %d min values and %d max values",
			errdefs.ErrSchemaMismatch, t.Name, len(t.Stats.Min), len(t.Stats.Max))
	}
	for i := range t.Stats.Min {
		if t.Stats.Min[i] > t.Stats.Max[i] {
			return fmt.Errorf("%w: tensor %q stats min[%d] exceeds max", errdefs.ErrSchemaMismatch, t.Name, i)
		}
	}
	for _, pu := range t.ProcessUnits {
		if len(pu.Mean) == 0 || len(pu.Mean) != len(pu.Std) {
			return fmt.Errorf("%w: tensor %q normalization has %d mean and %d std values",
				errdefs.ErrSchemaMismatch, t.Name, len(pu.Mean), len(pu.Std))
		}
	}
	for _, f := range t.AssociatedFiles {
		if f.Name == "" {
			return fmt.Errorf("%w: tensor %q references an unnamed file", errdefs.ErrSchemaMismatch, t.Name)
		}
	}
	return nil
}
