package secrets

import (
	"context"
	"os"
	"strings"
)

// Source looks up a setting for a resource. ok is false when the source
// has no non-empty value for key; err is reserved for sources that could
// not be read at all.
type Source interface {
	Name() string
	Lookup(ctx context.Context, resource, key string) (value string, ok bool, err error)
}

// ScopedKey returns the resource-scoped form of key.
func ScopedKey(resource, key string) string {
	if resource == "" {
		return key
	}
	return resource + "_" + key
}

// candidates returns the names a source should try, most specific first.
func candidates(resource, key string) []string {
	if resource == "" {
		return []string{key}
	}
	return []string{ScopedKey(resource, key), key}
}

// StaticSource serves values from a map. It backs EnvSource and is used for
// command-line overrides.
type StaticSource struct {
	name   string
	lookup func(string) (string, bool)
}

// NewStaticSource creates a source over values.
func NewStaticSource(name string, values map[string]string) *StaticSource {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticSource{
		name: name,
		lookup: func(k string) (string, bool) {
			v, ok := copied[k]
			return v, ok
		},
	}
}

// NewEnvSource reads the process environment.
func NewEnvSource() *StaticSource {
	return &StaticSource{name: "env", lookup: os.LookupEnv}
}

// Name implements Source.
func (s *StaticSource) Name() string {
	return s.name
}

// Lookup implements Source.
func (s *StaticSource) Lookup(_ context.Context, resource, key string) (string, bool, error) {
	for _, k := range candidates(resource, key) {
		if v, ok := s.lookup(k); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true, nil
			}
		}
	}
	return "", false, nil
}

var _ Source = (*StaticSource)(nil)
