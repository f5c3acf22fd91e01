package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultSlurmConfigPath is where the Slurm SPANK plugin publishes resource
// settings.
const DefaultSlurmConfigPath = "/etc/slurm/qrmi_config.json"

// SlurmConfig is the document at DefaultSlurmConfigPath.
type SlurmConfig struct {
	Resources []SlurmResource `json:"resources"`
}

// SlurmResource is one entry of SlurmConfig.
type SlurmResource struct {
	Name        string            `json:"name"`
	Type        string            `json:"type,omitempty"`
	Environment map[string]string `json:"environment"`
}

// SlurmSource reads the environment block of the matching resource entry.
// Keys are looked up unscoped since the entry is already per resource.
type SlurmSource struct {
	path string
}

// NewSlurmSource creates a source for path.
func NewSlurmSource(path string) *SlurmSource {
	return &SlurmSource{path: path}
}

// Name implements Source.
func (s *SlurmSource) Name() string {
	return "slurm-config"
}

// Lookup implements Source. A missing file is an empty source.
func (s *SlurmSource) Lookup(_ context.Context, resource, key string) (string, bool, error) {
	if s.path == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var cfg SlurmConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", false, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	for _, r := range cfg.Resources {
		if r.Name != resource {
			continue
		}
		v := strings.TrimSpace(r.Environment[key])
		return v, v != "", nil
	}
	return "", false, nil
}

var _ Source = (*SlurmSource)(nil)
