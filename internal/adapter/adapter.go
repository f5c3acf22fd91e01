// Package adapter builds resources from configuration. The set of
// adapters is closed: each resource.Kind maps to one constructor, and
// every resource is returned wrapped by resource.Instrument.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/adapter/directaccess"
	"github.com/qiskit-community/qrmi/internal/adapter/ionq"
	"github.com/qiskit-community/qrmi/internal/adapter/mock"
	"github.com/qiskit-community/qrmi/internal/adapter/pasqalcloud"
	"github.com/qiskit-community/qrmi/internal/adapter/pasqallocal"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
)

// Deps is the dependency set of every adapter.
type Deps = base.Deps

// New creates the resource described by cfg.
func New(ctx context.Context, cfg *config.ResourceConfig, d Deps) (*resource.Instrumented, error) {
	d = d.WithDefaults()

	kind, err := resource.ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	var r resource.Resource
	switch kind {
	case resource.KindIonQCloud:
		r, err = ionq.New(ctx, cfg, d)
	case resource.KindIonQMock:
		r, err = mock.New(cfg, d)
	case resource.KindPasqalCloud:
		r, err = pasqalcloud.New(ctx, cfg, d)
	case resource.KindPasqalLocal:
		r, err = pasqallocal.New(cfg, d)
	case resource.KindDirectAccess:
		r, err = directaccess.New(ctx, cfg, d)
	default:
		err = fmt.Errorf("no adapter for kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", cfg.Name, err)
	}

	d.Logger.Debug("resource created",
		observability.String("resource", cfg.Name),
		observability.String("kind", kind.String()),
	)
	opts := []resource.InstrumentOption{
		resource.WithLogger(d.Logger),
		resource.WithTracer(d.Tracer),
	}
	if d.Metrics != nil {
		opts = append(opts, resource.WithMetrics(d.Metrics))
	}
	return resource.Instrument(r, cfg.Name, kind, opts...), nil
}

// NewAll creates every resource of cfg, keyed by name. Construction
// errors are joined; resources that could be built are still returned.
func NewAll(ctx context.Context, cfg *config.Config, d Deps) (map[string]*resource.Instrumented, error) {
	out := make(map[string]*resource.Instrumented, len(cfg.Resources))
	var errs []error
	for i := range cfg.Resources {
		rc := &cfg.Resources[i]
		r, err := New(ctx, rc, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[rc.Name] = r
	}
	return out, errors.Join(errs...)
}
