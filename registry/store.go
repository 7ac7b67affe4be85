package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when no manifest is registered under a name.
var ErrNotFound = errors.New("artifact not found")

// Store manages on-disk storage for artifact manifests.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// ManifestsDir returns the directory where artifact manifests are stored.
func (s *Store) ManifestsDir() string { return filepath.Join(s.baseDir, "artifacts") }

// EnsureDirs creates the required directory structure if it does not exist.
func (s *Store) EnsureDirs() error {
	return os.MkdirAll(s.ManifestsDir(), 0755)
}

func (s *Store) manifestPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.ManifestsDir(), name+".json"), nil
}

// SaveManifest writes a manifest to disk as JSON, replacing any previous one
// with the same name.
func (s *Store) SaveManifest(m *ArtifactManifest) error {
	path, err := s.manifestPath(m.Name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadManifest reads a manifest from disk by name.
func (s *Store) LoadManifest(name string) (*ArtifactManifest, error) {
	path, err := s.manifestPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	var m ArtifactManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	return &m, nil
}

// ListManifests returns every readable manifest, sorted by name.
func (s *Store) ListManifests() ([]ArtifactManifest, error) {
	entries, err := os.ReadDir(s.ManifestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var manifests []ArtifactManifest
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		m, err := s.LoadManifest(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		manifests = append(manifests, *m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, nil
}

// DeleteManifest removes a manifest from disk. The artifact itself is left alone.
func (s *Store) DeleteManifest(name string) error {
	path, err := s.manifestPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return nil
}
