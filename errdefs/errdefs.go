// Package errdefs defines the error kinds shared by the metadata tooling.
// Callers wrap these with fmt.Errorf("...: %w") and test them with errors.Is.
package errdefs

import "errors"

var (
	// ErrMissingInputFile is returned when a model, label or other input file does not exist.
	ErrMissingInputFile = errors.New("missing input file")

	// ErrSchemaMismatch is returned when a descriptor does not have the shape the
	// runtime's metadata loader expects, or disagrees with the model it describes.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrMalformedConfiguration is returned for invalid tunables such as
	// mismatched mean/std lengths or an inverted value range.
	ErrMalformedConfiguration = errors.New("malformed configuration")

	// ErrUnsupportedModel is returned when a file is not a TFLite flatbuffer or
	// uses container features that cannot be rewritten.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// IsMissingInputFile reports whether err is, or wraps, ErrMissingInputFile.
func IsMissingInputFile(err error) bool { return errors.Is(err, ErrMissingInputFile) }

// IsSchemaMismatch reports whether err is, or wraps, ErrSchemaMismatch.
func IsSchemaMismatch(err error) bool { return errors.Is(err, ErrSchemaMismatch) }

// IsMalformedConfiguration reports whether err is, or wraps, ErrMalformedConfiguration.
func IsMalformedConfiguration(err error) bool { return errors.Is(err, ErrMalformedConfiguration) }
