package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Keys understood by the Pasqal Cloud adapter.
const (
	KeyPasqalProjectID    = "QRMI_PASQAL_CLOUD_PROJECT_ID"
	KeyPasqalAuthToken    = "QRMI_PASQAL_CLOUD_AUTH_TOKEN"
	KeyPasqalAuthEndpoint = "QRMI_PASQAL_CLOUD_AUTH_ENDPOINT"
	KeyPasqalUsername     = "QRMI_PASQAL_CLOUD_USERNAME"
	KeyPasqalPassword     = "QRMI_PASQAL_CLOUD_PASSWORD"
)

// pasqalFileKeys maps setting keys to their name in the Pasqal config file.
var pasqalFileKeys = map[string]string{
	KeyPasqalProjectID:    "project_id",
	KeyPasqalAuthToken:    "token",
	KeyPasqalAuthEndpoint: "auth_endpoint",
	KeyPasqalUsername:     "username",
	KeyPasqalPassword:     "password",
}

// DefaultPasqalConfigPath returns ~/.pasqal/config, or "" without a home
// directory.
func DefaultPasqalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".pasqal", "config")
}

// PasqalFileSource reads the user's Pasqal config file, a flat list of
// key = value lines where # and ; start comments. The file applies to every
// Pasqal resource; a missing file is an empty source.
type PasqalFileSource struct {
	path string
}

// NewPasqalFileSource creates a source for path.
func NewPasqalFileSource(path string) *PasqalFileSource {
	return &PasqalFileSource{path: path}
}

// Name implements Source.
func (s *PasqalFileSource) Name() string {
	return "pasqal-config"
}

// Lookup implements Source. The file is re-read on every call so edits are
// picked up without a restart.
func (s *PasqalFileSource) Lookup(_ context.Context, _, key string) (string, bool, error) {
	fileKey, known := pasqalFileKeys[key]
	if !known || s.path == "" {
		return "", false, nil
	}

	values, err := readPasqalConfig(s.path)
	if err != nil {
		return "", false, err
	}
	v, ok := values[fileKey]
	return v, ok && v != "", nil
}

func readPasqalConfig(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		values[k] = strings.TrimSpace(stripQuotes(strings.TrimSpace(v)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

var _ Source = (*PasqalFileSource)(nil)
