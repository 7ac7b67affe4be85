package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/schema"
	"github.com/cloudchase/tfmeta/tflite"
)

// ArtifactManager provides high-level operations over the local registry of
// populated models.
type ArtifactManager struct {
	store *Store
	now   func() time.Time
}

// NewArtifactManager creates an ArtifactManager and ensures the storage
// directories exist.
func NewArtifactManager(baseDir string) (*ArtifactManager, error) {
	store := NewStore(baseDir)
	if err := store.EnsureDirs(); err != nil {
		return nil, err
	}
	return &ArtifactManager{store: store, now: time.Now}, nil
}

// DefaultBaseDir returns the default base directory (~/.tfmeta).
func DefaultBaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tfmeta")
}

// NameFromPath derives a registry name from a model file name.
func NameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Register records the model at path under name. The model is parsed so the
// manifest can carry its provenance and packed file names.
func (m *ArtifactManager) Register(name, path string) (*ArtifactManifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	model, err := tflite.Open(abs)
	if err != nil {
		return nil, err
	}

	manifest := &ArtifactManifest{
		Name:    name,
		Path:    abs,
		Size:    model.Size(),
		AddedAt: m.now().UTC(),
	}
	for _, f := range model.Files {
		manifest.Files = append(manifest.Files, f.Name)
	}
	if buf, err := model.MetadataBuffer(tflite.MetadataName); err == nil && buf != nil {
		if meta, err := schema.Unmarshal(buf); err == nil {
			manifest.ModelName = meta.Info.Name
			manifest.Version = meta.Info.Version
			manifest.Author = meta.Info.Author
		}
	}

	if err := m.store.SaveManifest(manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return manifest, nil
}

// Get retrieves a manifest by name.
func (m *ArtifactManager) Get(name string) (*ArtifactManifest, error) {
	return m.store.LoadManifest(name)
}

// List returns all registered manifests.
func (m *ArtifactManager) List() ([]ArtifactManifest, error) {
	return m.store.ListManifests()
}

// Remove deletes a manifest from the registry.
func (m *ArtifactManager) Remove(name string) error {
	return m.store.DeleteManifest(name)
}

// Open parses the registered artifact.
func (m *ArtifactManager) Open(name string) (*ArtifactManifest, *tflite.Model, error) {
	manifest, err := m.Get(name)
	if err != nil {
		return nil, nil, err
	}
	model, err := tflite.Open(manifest.Path)
	if err != nil {
		return nil, nil, err
	}
	return manifest, model, nil
}

// ResolveModelPath resolves a registered name or a file path to an absolute
// file path. An existing file wins over a registered name.
func (m *ArtifactManager) ResolveModelPath(nameOrPath string) (string, error) {
	if _, err := os.Stat(nameOrPath); err == nil {
		abs, err := filepath.Abs(nameOrPath)
		if err != nil {
			return nameOrPath, nil
		}
		return abs, nil
	}
	manifest, err := m.store.LoadManifest(nameOrPath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %q is neither a file nor a registered artifact",
				errdefs.ErrMissingInputFile, nameOrPath)
		}
		return "", err
	}
	return manifest.Path, nil
}
