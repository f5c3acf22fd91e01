package config

import (
	"fmt"
	"strings"

	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/util"
)

// ValidationErrors collects every problem found in a configuration. It
// matches util.ErrConfigInvalid and each contained *util.ConfigError.
type ValidationErrors []*util.ConfigError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

// Validator validates a Config.
type Validator struct {
	errors ValidationErrors
}

// Validate validates cfg and returns ValidationErrors or nil.
func Validate(cfg *Config) error {
	v := &Validator{}
	return v.Validate(cfg)
}

// Validate validates cfg and returns ValidationErrors or nil.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil
	if cfg == nil {
		v.add("", "configuration is nil")
		return v.errors
	}

	v.validateLogging(cfg)
	v.validateMetrics(cfg)
	v.validateTokenCache(cfg)
	v.validateSecrets(cfg)

	seen := make(map[string]bool, len(cfg.Resources))
	for i := range cfg.Resources {
		r := &cfg.Resources[i]
		path := fmt.Sprintf("resources[%d]", i)
		if seen[r.Name] && r.Name != "" {
			v.add(path+".name", fmt.Sprintf("duplicate resource name %q", r.Name))
		}
		seen[r.Name] = true
		v.validateResource(path, r)
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) add(field, message string) {
	v.errors = append(v.errors, util.NewConfigError(field, message))
}

func (v *Validator) addCause(field, message string, cause error) {
	v.errors = append(v.errors, util.NewConfigErrorWithCause(field, message, cause))
}

func (v *Validator) validateLogging(cfg *Config) {
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.add("logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		v.add("logging.format", fmt.Sprintf("unknown format %q, want json or console", cfg.Logging.Format))
	}
}

func (v *Validator) validateMetrics(cfg *Config) {
	if cfg.Tracing.SamplingRate != 0 {
		if err := util.ValidatePercentage(cfg.Tracing.SamplingRate); err != nil {
			v.addCause("tracing.sampling_rate", "invalid sampling rate", err)
		}
	}
	if cfg.Tracing.Enabled && cfg.Tracing.OTLPEndpoint == "" {
		v.add("tracing.otlp_endpoint", "required when tracing is enabled")
	}
}

func (v *Validator) validateTokenCache(cfg *Config) {
	switch cfg.TokenCache.Type {
	case "", TokenCacheMemory:
	case TokenCacheRedis:
		if cfg.TokenCache.RedisAddress == "" {
			v.add("token_cache.redis_address", "required for the redis cache")
		}
	default:
		v.add("token_cache.type", fmt.Sprintf("unknown type %q, want memory or redis", cfg.TokenCache.Type))
	}
}

func (v *Validator) validateSecrets(cfg *Config) {
	if vault := cfg.Secrets.Vault; vault != nil && vault.Address != "" {
		if err := util.ValidateURL(vault.Address); err != nil {
			v.addCause("secrets.vault.address", "invalid address", err)
		}
	}
	if k := cfg.Secrets.Kubernetes; k != nil {
		if err := util.ValidateNonEmpty(k.Secret, "secret"); err != nil {
			v.addCause("secrets.kubernetes.secret", "invalid secret", err)
		}
	}
}

func (v *Validator) validateResource(path string, r *ResourceConfig) {
	if err := util.ValidateNonEmpty(r.Name, "name"); err != nil {
		v.addCause(path+".name", "invalid name", err)
	}
	if _, err := resource.ParseKind(r.Kind); err != nil {
		v.addCause(path+".kind", "invalid kind", err)
	}
	if r.Endpoint != "" {
		if err := util.ValidateURL(r.Endpoint); err != nil {
			v.addCause(path+".endpoint", "invalid endpoint", err)
		}
	}
	if r.AuthEndpoint != "" {
		if err := util.ValidateURL(util.EnsureScheme(r.AuthEndpoint)); err != nil {
			v.addCause(path+".auth_endpoint", "invalid auth endpoint", err)
		}
	}
	if r.Timeout < 0 {
		v.add(path+".timeout", "must not be negative")
	}
	if r.PollInterval < 0 {
		v.add(path+".poll_interval", "must not be negative")
	}
	if r.AccessibleWhen != "" {
		if _, err := health.NewEvaluator(r.AccessibleWhen); err != nil {
			v.addCause(path+".accessible_when", "invalid expression", err)
		}
	}
	v.validateRetry(path+".retry", r.Retry)

	if cb := r.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.MaxFailures < 0 {
			v.add(path+".circuit_breaker.max_failures", "must not be negative")
		}
		if cb.Timeout < 0 {
			v.add(path+".circuit_breaker.timeout", "must not be negative")
		}
	}
	if rl := r.RateLimit; rl != nil {
		if rl.RPS <= 0 {
			v.add(path+".rate_limit.rps", "must be positive")
		}
		if rl.Burst < 0 {
			v.add(path+".rate_limit.burst", "must not be negative")
		}
	}
}

func (v *Validator) validateRetry(path string, r *RetryConfig) {
	if r == nil {
		return
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		v.add(path+".max_retries", "must not be negative")
	}
	if r.Base != 0 && r.Base < 1 {
		v.add(path+".base", "must be at least 1")
	}
	if r.Jitter != nil {
		if err := util.ValidatePercentage(*r.Jitter); err != nil {
			v.addCause(path+".jitter", "invalid jitter", err)
		}
	}
	if r.InitialBackoff > 0 && r.MaxBackoff > 0 && r.MaxBackoff < r.InitialBackoff {
		v.add(path+".max_backoff", "must not be below initial_backoff")
	}
}
