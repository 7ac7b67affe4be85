package api

import (
	"time"

	"github.com/cloudchase/tfmeta/metadata"
)

// ArtifactInfo describes an artifact in list responses.
type ArtifactInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	ModelName string    `json:"model_name,omitempty"`
	Version   string    `json:"version,omitempty"`
	Files     []string  `json:"files,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// ListResponse is the JSON response for GET /api/models.
type ListResponse struct {
	Models []ArtifactInfo `json:"models"`
}

// TensorInfo is a tensor as the model itself declares it.
type TensorInfo struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Shape []int32 `json:"shape"`
}

// ModelResponse is the JSON response for GET /api/models/{name}.
type ModelResponse struct {
	ArtifactInfo
	Path     string                  `json:"path"`
	Inputs   []TensorInfo            `json:"inputs"`
	Outputs  []TensorInfo            `json:"outputs"`
	Metadata *metadata.ModelMetadata `json:"metadata,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
