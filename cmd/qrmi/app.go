package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qiskit-community/qrmi/internal/adapter"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/credential"
	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/pipeline"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
)

const metricsNamespace = "qrmi"

// shutdownTimeout bounds the cleanup after the task has finished.
const shutdownTimeout = 10 * time.Second

// application holds all application components.
type application struct {
	config        *config.Config
	metrics       *observability.Metrics
	healthChecker *health.Checker
	tracer        *observability.Tracer
	secrets       *reloadableSecrets
	secretOptions secrets.FactoryOptions
	redis         *credential.RedisCache
	watcher       *config.Watcher
	metricsServer *http.Server
	deps          adapter.Deps
}

// initApplication initializes all application components.
func initApplication(
	ctx context.Context,
	cfg *config.Config,
	flags cliFlags,
	logger observability.Logger,
) (*application, error) {
	metrics := observability.NewMetrics(metricsNamespace)
	metrics.RegisterRuntimeCollectors()
	metrics.SetBuildInfo(version, gitCommit)

	pipelineMetrics := pipeline.NewMetrics(metricsNamespace)
	credentialMetrics := credential.NewMetrics(metricsNamespace)
	healthMetrics := health.NewMetrics(metricsNamespace)
	secretMetrics := secrets.NewMetrics(metricsNamespace)
	metrics.MustRegister(pipelineMetrics.Collectors()...)
	metrics.MustRegister(credentialMetrics.Collectors()...)
	metrics.MustRegister(healthMetrics.Collectors()...)
	metrics.MustRegister(secretMetrics.Collectors()...)

	tracer, err := initTracer(cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		config:        cfg,
		metrics:       metrics,
		healthChecker: health.NewChecker(version, logger, health.WithCheckerMetrics(healthMetrics)),
		tracer:        tracer,
	}

	app.secretOptions = secrets.FactoryOptions{Logger: logger, Metrics: secretMetrics}
	if cfg.Secrets.Kubernetes != nil {
		kube, err := newKubeClient()
		if err != nil {
			app.shutdown(logger)
			return nil, err
		}
		app.secretOptions.KubeClient = kube
	}
	resolver, err := secrets.NewFromConfig(cfg.Secrets, app.secretOptions)
	if err != nil {
		app.shutdown(logger)
		return nil, err
	}
	app.secrets = newReloadableSecrets(resolver)

	var cache credential.TokenCache
	if cfg.TokenCache.Type == config.TokenCacheRedis {
		app.redis, err = initRedisCache(ctx, cfg.TokenCache, logger)
		if err != nil {
			app.shutdown(logger)
			return nil, err
		}
		app.healthChecker.RegisterOptional("token_cache", health.RedisCheck(app.redis.Client()))
		cache = app.redis
	}

	app.deps = adapter.Deps{
		Logger:            logger,
		Tracer:            tracer,
		Metrics:           metrics,
		PipelineMetrics:   pipelineMetrics,
		CredentialMetrics: credentialMetrics,
		HealthMetrics:     healthMetrics,
		Secrets: secrets.NewResolver([]secrets.Source{app.secrets},
			secrets.WithLogger(logger)),
		TokenCache: cache,
	}

	logger.Debug("application initialized",
		observability.String("token_cache", cfg.TokenCache.Type),
		observability.Strings("secret_sources", resolver.Sources()),
		observability.Bool("watch", flags.watch),
	)
	return app, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config, logger observability.Logger) (*observability.Tracer, error) {
	tracer, err := observability.NewTracer(cfg.Tracing.TracerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled",
			observability.String("endpoint", cfg.Tracing.OTLPEndpoint),
		)
	}
	return tracer, nil
}

// initRedisCache connects the shared token cache.
func initRedisCache(ctx context.Context, cfg config.TokenCacheConfig, logger observability.Logger) (*credential.RedisCache, error) {
	url := cfg.RedisAddress
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}

	var opts []credential.RedisCacheOption
	if cfg.Prefix != "" {
		opts = append(opts, credential.WithKeyPrefix(cfg.Prefix))
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cache, err := credential.NewRedisCache(connectCtx, url, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("sharing credentials through redis",
		observability.String("address", cfg.RedisAddress),
	)
	return cache, nil
}

// newResource builds the resource of rc and registers its probe with the
// health checker.
func (a *application) newResource(ctx context.Context, rc *config.ResourceConfig) (*resource.Instrumented, error) {
	r, err := adapter.New(ctx, rc, a.deps)
	if err != nil {
		return nil, err
	}
	a.healthChecker.Register("resource:"+rc.Name, health.ResourceCheck(r))
	return r, nil
}

// shutdown releases everything initApplication created.
func (a *application) shutdown(logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			logger.Warn("failed to stop config watcher", observability.Error(err))
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("failed to close redis client", observability.Error(err))
		}
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
