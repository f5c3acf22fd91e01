package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Resolver queries its sources in order.
type Resolver struct {
	sources []Source
	logger  observability.Logger
	metrics *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = metrics
	}
}

// NewResolver creates a resolver over sources, highest precedence first.
// Nil sources are skipped.
func NewResolver(sources []Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{logger: observability.NopLogger()}
	for _, s := range sources {
		if s != nil {
			r.sources = append(r.sources, s)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sources returns the source names in precedence order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Lookup returns the first value found. A source that fails is logged and
// skipped; its error is returned only when no later source has the key.
func (r *Resolver) Lookup(ctx context.Context, resource, key string) (string, bool, error) {
	var errs []error
	for _, s := range r.sources {
		start := time.Now()
		v, ok, err := s.Lookup(ctx, resource, key)
		r.record(s.Name(), ok, err, time.Since(start))
		if err != nil {
			r.logger.Warn("secret source failed",
				observability.String("source", s.Name()),
				observability.String("resource", resource),
				observability.String("key", key),
				observability.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if ok {
			r.logger.Debug("setting resolved",
				observability.String("source", s.Name()),
				observability.String("resource", resource),
				observability.String("key", key),
			)
			return v, true, nil
		}
	}
	return "", false, errors.Join(errs...)
}

// Get returns the value for key or def when no source has it.
func (r *Resolver) Get(ctx context.Context, resource, key, def string) string {
	v, ok, _ := r.Lookup(ctx, resource, key)
	if !ok {
		return def
	}
	return v
}

// Require returns the value for key or an error matching
// util.ErrCredentialsMissing.
func (r *Resolver) Require(ctx context.Context, resource, key string) (string, error) {
	v, ok, err := r.Lookup(ctx, resource, key)
	if ok {
		return v, nil
	}
	missing := fmt.Errorf("%w: %s is not set (also tried %s)",
		util.ErrCredentialsMissing, ScopedKey(resource, key), key)
	if err != nil {
		return "", errors.Join(missing, err)
	}
	return "", missing
}

func (r *Resolver) record(source string, found bool, err error, d time.Duration) {
	if r.metrics == nil {
		return
	}
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "hit"
	}
	r.metrics.RecordLookup(source, result, d)
}
