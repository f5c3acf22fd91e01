package main

import (
	"context"
	"sync/atomic"

	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/secrets"
)

// reloadableSecrets is a secrets.Source whose resolver is swapped when the
// configuration file changes. Adapters keep resolving through it, so a
// rotated Vault path or Kubernetes secret is picked up by the next lookup.
type reloadableSecrets struct {
	current atomic.Pointer[secrets.Resolver]
}

func newReloadableSecrets(r *secrets.Resolver) *reloadableSecrets {
	s := &reloadableSecrets{}
	s.current.Store(r)
	return s
}

// Name implements secrets.Source.
func (s *reloadableSecrets) Name() string {
	return "config"
}

// Lookup implements secrets.Source.
func (s *reloadableSecrets) Lookup(ctx context.Context, resource, key string) (string, bool, error) {
	return s.current.Load().Lookup(ctx, resource, key)
}

func (s *reloadableSecrets) swap(r *secrets.Resolver) {
	s.current.Store(r)
}

// reloadSecrets rebuilds the secret sources from cfg. A configuration that
// cannot be turned into sources leaves the current ones in place.
func (a *application) reloadSecrets(cfg *config.Config, logger observability.Logger) {
	opts := a.secretOptions
	if cfg.Secrets.Kubernetes != nil && opts.KubeClient == nil {
		kube, err := newKubeClient()
		if err != nil {
			logger.Error("failed to reload secret sources", observability.Error(err))
			return
		}
		a.secretOptions.KubeClient = kube
		opts.KubeClient = kube
	}

	resolver, err := secrets.NewFromConfig(cfg.Secrets, opts)
	if err != nil {
		logger.Error("failed to reload secret sources", observability.Error(err))
		return
	}
	a.secrets.swap(resolver)
	logger.Info("secret sources reloaded",
		observability.Strings("sources", resolver.Sources()),
	)
}

// startConfigWatcher starts the configuration watcher.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, reloading")
		app.reloadSecrets(newCfg, logger)
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		return nil
	}
	return watcher
}
