package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Vault defaults.
const (
	DefaultVaultMount = "secret"
	DefaultVaultPath  = "qrmi"
	DefaultVaultTTL   = 5 * time.Minute
)

// VaultConfig configures a VaultSource.
type VaultConfig struct {
	// Address of the Vault server; VAULT_ADDR when empty.
	Address string
	// Token used to read; VAULT_TOKEN when empty.
	Token string
	// Mount of the KV v2 engine.
	Mount string
	// Path under the mount; each resource is a secret at <path>/<resource>.
	Path string
	// TTL of cached secrets.
	TTL time.Duration
}

type vaultEntry struct {
	data    map[string]interface{}
	fetched time.Time
}

// VaultSource reads KV v2 secrets laid out as <mount>/<path>/<resource>,
// falling back to <mount>/<path> for keys shared by every resource.
type VaultSource struct {
	client *vaultapi.Client
	mount  string
	path   string
	ttl    time.Duration
	logger observability.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]vaultEntry
}

// VaultOption configures a VaultSource.
type VaultOption func(*VaultSource)

// WithVaultLogger sets the logger.
func WithVaultLogger(logger observability.Logger) VaultOption {
	return func(s *VaultSource) {
		s.logger = logger
	}
}

// WithVaultClock sets the clock used for cache expiry.
func WithVaultClock(now func() time.Time) VaultOption {
	return func(s *VaultSource) {
		s.now = now
	}
}

// NewVaultSource creates a Vault client for cfg.
func NewVaultSource(cfg VaultConfig, opts ...VaultOption) (*VaultSource, error) {
	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		if err := util.ValidateURL(cfg.Address); err != nil {
			return nil, util.NewConfigErrorWithCause("secrets.vault.address", "invalid address", err)
		}
		apiCfg.Address = cfg.Address
	}

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultSourceFromClient(client, cfg, opts...), nil
}

// NewVaultSourceFromClient wraps an existing client.
func NewVaultSourceFromClient(client *vaultapi.Client, cfg VaultConfig, opts ...VaultOption) *VaultSource {
	s := &VaultSource{
		client: client,
		mount:  orDefault(cfg.Mount, DefaultVaultMount),
		path:   strings.Trim(orDefault(cfg.Path, DefaultVaultPath), "/"),
		ttl:    cfg.TTL,
		logger: observability.NopLogger(),
		now:    time.Now,
		cache:  make(map[string]vaultEntry),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultVaultTTL
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *VaultSource) Name() string {
	return "vault"
}

// Lookup implements Source.
func (s *VaultSource) Lookup(ctx context.Context, resource, key string) (string, bool, error) {
	paths := []string{s.path}
	if resource != "" {
		paths = []string{s.path + "/" + resource, s.path}
	}

	for _, p := range paths {
		data, err := s.read(ctx, p)
		if err != nil {
			return "", false, err
		}
		if v, ok := data[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true, nil
			}
		}
	}
	return "", false, nil
}

func (s *VaultSource) read(ctx context.Context, path string) (map[string]interface{}, error) {
	s.mu.Lock()
	entry, ok := s.cache[path]
	s.mu.Unlock()
	if ok && s.now().Sub(entry.fetched) < s.ttl {
		return entry.data, nil
	}

	secret, err := s.client.KVv2(s.mount).Get(ctx, path)
	var data map[string]interface{}
	switch {
	case errors.Is(err, vaultapi.ErrSecretNotFound):
		s.logger.Debug("vault secret not found",
			observability.String("mount", s.mount),
			observability.String("path", path),
		)
	case err != nil:
		return nil, fmt.Errorf("failed to read vault secret %s/%s: %w", s.mount, path, err)
	case secret != nil:
		data = secret.Data
	}

	s.mu.Lock()
	s.cache[path] = vaultEntry{data: data, fetched: s.now()}
	s.mu.Unlock()
	return data, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

var _ Source = (*VaultSource)(nil)
