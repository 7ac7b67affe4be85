package registry

import "time"

// ArtifactManifest describes a populated model registered under a name.
type ArtifactManifest struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModelName string    `json:"model_name,omitempty"`
	Version   string    `json:"version,omitempty"`
	Author    string    `json:"author,omitempty"`
	Files     []string  `json:"files,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}
