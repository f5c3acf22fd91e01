package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/qiskit-community/qrmi/internal/util"
)

const fullConfigYAML = `
logging:
  level: debug
  format: json
metrics:
  enabled: true
  address: ":9100"
tracing:
  enabled: true
  otlp_endpoint: ${OTLP_ENDPOINT:-localhost:4317}
  sampling_rate: 0.5
token_cache:
  type: redis
  redis_address: ${REDIS_URL}
secrets:
  pasqal_config: "-"
  vault:
    address: http://vault:8200
    mount: kv
  kubernetes:
    namespace: quantum
    secret: qrmi-credentials
resources:
  - name: FRESNEL
    kind: pasqal-cloud
    accessible_when: device.data[0].availability == "ACTIVE"
    circuit_breaker:
      enabled: true
    rate_limit:
      rps: 5
      burst: 10
  - name: simulator
    kind: ionq-cloud
    backend: simulator
    job_backend_field: target
    timeout: 2m
    retry:
      max_retries: 0
      initial_backoff: 100ms
      max_backoff: 2s
      jitter: 0
    options:
      price: "$$5"
`

func fakeEnv(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestParse_Full(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(fullConfigYAML), fakeEnv(map[string]string{"REDIS_URL": "redis://cache:6379/1"}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "localhost:4317", cfg.Tracing.OTLPEndpoint)
	assert.Equal(t, DefaultServiceName, cfg.Tracing.TracerConfig().ServiceName)
	assert.Equal(t, "redis://cache:6379/1", cfg.TokenCache.RedisAddress)
	assert.Equal(t, "kv", cfg.Secrets.Vault.Mount)
	assert.Equal(t, "qrmi-credentials", cfg.Secrets.Kubernetes.Secret)
	require.Len(t, cfg.Resources, 2)

	fresnel, ok := cfg.Resource("FRESNEL")
	require.True(t, ok)
	assert.Equal(t, DefaultBreakerFailures, fresnel.CircuitBreaker.MaxFailures)
	assert.Equal(t, DefaultBreakerOpenPeriod, fresnel.CircuitBreaker.Timeout.Duration())
	assert.Equal(t, DefaultJobBackendField, fresnel.JobBackendField)
	assert.Equal(t, DefaultResourceTimeout, fresnel.Timeout.Duration())

	sim, ok := cfg.Resource("simulator")
	require.True(t, ok)
	assert.Equal(t, "target", sim.JobBackendField)
	assert.Equal(t, 2*time.Minute, sim.Timeout.Duration())
	assert.Equal(t, "$5", sim.Option("price", ""))
	assert.Equal(t, "x", sim.Option("missing", "x"))

	policy := sim.Retry.RetryPolicy()
	assert.Equal(t, 0, policy.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, policy.InitialBackoff)
	assert.Equal(t, 2*time.Second, policy.MaxBackoff)
	assert.Equal(t, 2.0, policy.Base)
	assert.Equal(t, 0.0, policy.JitterFactor)

	_, ok = cfg.Resource("nope")
	assert.False(t, ok)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(nil, fakeEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, TokenCacheMemory, cfg.TokenCache.Type)
	assert.Equal(t, DefaultMetricsAddress, cfg.Metrics.Address)
	assert.Empty(t, cfg.Resources)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown field", "bogus: 1", ""},
		{"bad duration", "resources:\n  - name: a\n    kind: ionq-mock\n    timeout: soon", ""},
		{"unknown kind", "resources:\n  - name: a\n    kind: dwave", "resources[0].kind"},
		{"missing name", "resources:\n  - kind: ionq-mock", "resources[0].name"},
		{"duplicate name", "resources:\n  - {name: a, kind: ionq-mock}\n  - {name: a, kind: ionq-mock}", "resources[1].name"},
		{"bad endpoint", "resources:\n  - {name: a, kind: ionq-cloud, endpoint: 'ftp://x'}", "resources[0].endpoint"},
		{"bad expression", "resources:\n  - {name: a, kind: ionq-cloud, accessible_when: 'device.status =='}", "resources[0].accessible_when"},
		{"bad jitter", "resources:\n  - name: a\n    kind: ionq-mock\n    retry: {jitter: 2}", "resources[0].retry.jitter"},
		{"backoff order", "resources:\n  - name: a\n    kind: ionq-mock\n    retry: {initial_backoff: 5s, max_backoff: 1s}", "resources[0].retry.max_backoff"},
		{"zero rps", "resources:\n  - name: a\n    kind: ionq-mock\n    rate_limit: {rps: 0}", "resources[0].rate_limit.rps"},
		{"redis without address", "token_cache: {type: redis}", "token_cache.redis_address"},
		{"unknown cache", "token_cache: {type: memcached}", "token_cache.type"},
		{"tracing without endpoint", "tracing: {enabled: true}", "tracing.otlp_endpoint"},
		{"bad log format", "logging: {format: xml}", "logging.format"},
		{"kubernetes without secret", "secrets: {kubernetes: {namespace: x}}", "secrets.kubernetes.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.yaml), fakeEnv(nil))
			require.Error(t, err)
			if tt.field == "" {
				return
			}
			assert.ErrorIs(t, err, util.ErrConfigInvalid)
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, len(verrs))
			for i, e := range verrs {
				fields[i] = e.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	one := ValidationErrors{util.NewConfigError("a", "bad")}
	assert.Equal(t, "config error at a: bad", one.Error())
	two := append(one, util.NewConfigError("b", "worse"))
	assert.True(t, strings.HasPrefix(two.Error(), "2 validation errors:"))
	assert.Error(t, Validate(nil))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Parallel()

	env := fakeEnv(map[string]string{"SET": "value", "EMPTY": ""})
	tests := map[string]string{
		"${SET}":             "value",
		"${UNSET}":           "",
		"${UNSET:-fallback}": "fallback",
		"${EMPTY:-fallback}": "",
		"$${SET}":            "${SET}",
		"a-${SET}-b":         "a-value-b",
	}
	for in, want := range tests {
		assert.Equal(t, want, substituteEnvVars(in, env), in)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	var holder struct {
		D Duration `yaml:"d" json:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`d: 1m30s`), &holder))
	assert.Equal(t, 90*time.Second, holder.D.Duration())

	out, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Contains(t, string(out), "1m30s")

	require.NoError(t, json.Unmarshal([]byte(`{"d":"250ms"}`), &holder))
	assert.Equal(t, 250*time.Millisecond, holder.D.Duration())
	require.NoError(t, json.Unmarshal([]byte(`{"d":null}`), &holder))
	assert.Zero(t, holder.D)
	assert.Error(t, json.Unmarshal([]byte(`{"d":"later"}`), &holder))

	b, err := json.Marshal(Duration(time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(b))
	assert.Equal(t, time.Minute, Duration(0).OrDefault(time.Minute))
	assert.Equal(t, time.Second, Duration(time.Second).OrDefault(time.Minute))
}

func TestRetryPolicy_Nil(t *testing.T) {
	t.Parallel()

	var r *RetryConfig
	assert.Equal(t, 5, r.RetryPolicy().MaxRetries)
}
