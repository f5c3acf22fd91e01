package secrets

import (
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

// disabled turns off a file source in configuration.
const disabled = "-"

// FactoryOptions carries dependencies that are not part of the file.
type FactoryOptions struct {
	// Env replaces the process environment; used by tests.
	Env Source
	// Overrides take precedence over every other source.
	Overrides Source
	// KubeClient is required when a Kubernetes secret is configured.
	KubeClient client.Client
	Logger     observability.Logger
	Metrics    *Metrics
}

// NewFromConfig builds the resolver described by cfg, in the order
// overrides, environment, Pasqal file, Slurm file, Vault, Kubernetes.
func NewFromConfig(cfg config.SecretsConfig, opts FactoryOptions) (*Resolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	env := opts.Env
	if env == nil {
		env = NewEnvSource()
	}
	sources := []Source{opts.Overrides, env}

	if path := pathOrDefault(cfg.PasqalConfig, DefaultPasqalConfigPath()); path != "" {
		sources = append(sources, NewPasqalFileSource(path))
	}
	if path := pathOrDefault(cfg.SlurmConfig, DefaultSlurmConfigPath); path != "" {
		sources = append(sources, NewSlurmSource(path))
	}

	if v := cfg.Vault; v != nil {
		vault, err := NewVaultSource(VaultConfig{
			Address: v.Address,
			Mount:   v.Mount,
			Path:    v.Path,
			TTL:     v.TTL.Duration(),
		}, WithVaultLogger(logger))
		if err != nil {
			return nil, err
		}
		sources = append(sources, vault)
	}

	if k := cfg.Kubernetes; k != nil {
		if opts.KubeClient == nil {
			return nil, util.NewConfigError("secrets.kubernetes", "kubernetes client is not available")
		}
		kube, err := NewKubernetesSource(opts.KubeClient, k.Namespace, k.Secret)
		if err != nil {
			return nil, err
		}
		sources = append(sources, kube)
	}

	r := NewResolver(sources, WithLogger(logger), WithMetrics(opts.Metrics))
	logger.Debug("secret sources configured",
		observability.Strings("sources", r.Sources()),
	)
	return r, nil
}

func pathOrDefault(path, def string) string {
	switch path {
	case disabled:
		return ""
	case "":
		return def
	default:
		return path
	}
}
