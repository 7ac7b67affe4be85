package populator

import "go.uber.org/zap"

// Options holds populator settings.
type Options struct {
	// OutputPath receives the populated model. Empty rewrites the model in place.
	OutputPath string
	// SkipShapeCheck disables comparing image and class dimensions against the
	// model's tensor shapes.
	SkipShapeCheck bool
	Logger         *zap.Logger
}

// DefaultOptions populates in place with shape checks on and logging off.
func DefaultOptions() Options {
	return Options{Logger: zap.NewNop()}
}
