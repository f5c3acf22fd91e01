package config

import (
	"time"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/retry"
)

// Token cache types.
const (
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultMetricsAddress    = ":9090"
	DefaultServiceName       = "qrmi"
	DefaultSamplingRate      = 1.0
	DefaultJobBackendField   = "backend"
	DefaultResourceTimeout   = 30 * time.Second
	DefaultPollInterval      = time.Second
	DefaultBreakerFailures   = 5
	DefaultBreakerOpenPeriod = 30 * time.Second
)

// Config is the root of a configuration file.
type Config struct {
	Logging    observability.LogConfig `yaml:"logging" json:"logging"`
	Metrics    MetricsConfig           `yaml:"metrics" json:"metrics"`
	Tracing    TracingConfig           `yaml:"tracing" json:"tracing"`
	TokenCache TokenCacheConfig        `yaml:"token_cache" json:"token_cache"`
	Secrets    SecretsConfig           `yaml:"secrets" json:"secrets"`
	Resources  []ResourceConfig        `yaml:"resources" json:"resources"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// TracerConfig converts to the observability form.
func (c TracingConfig) TracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:  c.ServiceName,
		OTLPEndpoint: c.OTLPEndpoint,
		SamplingRate: c.SamplingRate,
		Enabled:      c.Enabled,
	}
}

// TokenCacheConfig selects where refreshed credentials are shared.
type TokenCacheConfig struct {
	Type         string `yaml:"type,omitempty" json:"type,omitempty"`
	RedisAddress string `yaml:"redis_address,omitempty" json:"redis_address,omitempty"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// SecretsConfig configures the setting sources consulted after the process
// environment.
type SecretsConfig struct {
	// PasqalConfig overrides ~/.pasqal/config; "-" disables the source.
	PasqalConfig string `yaml:"pasqal_config,omitempty" json:"pasqal_config,omitempty"`
	// SlurmConfig overrides /etc/slurm/qrmi_config.json; "-" disables it.
	SlurmConfig string                  `yaml:"slurm_config,omitempty" json:"slurm_config,omitempty"`
	Vault       *VaultSecretsConfig     `yaml:"vault,omitempty" json:"vault,omitempty"`
	Kubernetes  *KubernetesSecretConfig `yaml:"kubernetes,omitempty" json:"kubernetes,omitempty"`
}

// VaultSecretsConfig locates per-resource KV v2 secrets.
type VaultSecretsConfig struct {
	Address string   `yaml:"address,omitempty" json:"address,omitempty"`
	Mount   string   `yaml:"mount,omitempty" json:"mount,omitempty"`
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	TTL     Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// KubernetesSecretConfig names the Secret holding resource settings.
type KubernetesSecretConfig struct {
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Secret    string `yaml:"secret" json:"secret"`
}

// ResourceConfig describes one quantum resource.
type ResourceConfig struct {
	Name            string                `yaml:"name" json:"name"`
	Kind            string                `yaml:"kind" json:"kind"`
	Endpoint        string                `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AuthEndpoint    string                `yaml:"auth_endpoint,omitempty" json:"auth_endpoint,omitempty"`
	Backend         string                `yaml:"backend,omitempty" json:"backend,omitempty"`
	Retry           *RetryConfig          `yaml:"retry,omitempty" json:"retry,omitempty"`
	CircuitBreaker  *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty" json:"circuit_breaker,omitempty"`
	RateLimit       *RateLimitConfig      `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	AccessibleWhen  string                `yaml:"accessible_when,omitempty" json:"accessible_when,omitempty"`
	JobBackendField string                `yaml:"job_backend_field,omitempty" json:"job_backend_field,omitempty"`
	Timeout         Duration              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	PollInterval    Duration              `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	// Options carries adapter-specific settings.
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// Option returns an adapter option or def.
func (r *ResourceConfig) Option(key, def string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// RetryConfig overrides the transient retry policy.
type RetryConfig struct {
	MaxRetries     *int     `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	InitialBackoff Duration `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`
	MaxBackoff     Duration `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
	Base           float64  `yaml:"base,omitempty" json:"base,omitempty"`
	Jitter         *float64 `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// RetryPolicy merges r over retry.DefaultConfig. A nil receiver yields the
// defaults.
func (r *RetryConfig) RetryPolicy() *retry.Config {
	cfg := retry.DefaultConfig()
	if r == nil {
		return cfg
	}
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
	if r.InitialBackoff > 0 {
		cfg.InitialBackoff = r.InitialBackoff.Duration()
	}
	if r.MaxBackoff > 0 {
		cfg.MaxBackoff = r.MaxBackoff.Duration()
	}
	if r.Base > 0 {
		cfg.Base = r.Base
	}
	if r.Jitter != nil {
		cfg.JitterFactor = *r.Jitter
	}
	return cfg
}

// CircuitBreakerConfig enables the per-resource breaker.
type CircuitBreakerConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	MaxFailures int      `yaml:"max_failures,omitempty" json:"max_failures,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RateLimitConfig bounds outgoing requests per resource.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// DefaultConfig returns a configuration with no resources.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	def := observability.DefaultLogConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Output
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = DefaultSamplingRate
	}
	if c.TokenCache.Type == "" {
		c.TokenCache.Type = TokenCacheMemory
	}

	for i := range c.Resources {
		r := &c.Resources[i]
		if r.JobBackendField == "" {
			r.JobBackendField = DefaultJobBackendField
		}
		if r.Timeout == 0 {
			r.Timeout = Duration(DefaultResourceTimeout)
		}
		if r.PollInterval == 0 {
			r.PollInterval = Duration(DefaultPollInterval)
		}
		if cb := r.CircuitBreaker; cb != nil && cb.Enabled {
			if cb.MaxFailures == 0 {
				cb.MaxFailures = DefaultBreakerFailures
			}
			if cb.Timeout == 0 {
				cb.Timeout = Duration(DefaultBreakerOpenPeriod)
			}
		}
	}
}

// Resource returns the resource named name.
func (c *Config) Resource(name string) (*ResourceConfig, bool) {
	for i := range c.Resources {
		if c.Resources[i].Name == name {
			return &c.Resources[i], true
		}
	}
	return nil, false
}
