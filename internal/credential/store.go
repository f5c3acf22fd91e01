package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Store holds the bearer credential of one identity and refreshes it on
// demand. At most one refresh runs at a time; callers arriving while a
// refresh is in flight wait for it and reuse its result.
type Store struct {
	name      string
	refresher Refresher
	logger    observability.Logger
	metrics   *Metrics
	cache     TokenCache
	cacheKey  string
	grace     time.Duration
	now       func() time.Time

	// sem serializes check, refresh and store. A channel is used instead
	// of a mutex so waiters can give up when their context ends.
	sem chan struct{}

	mu   sync.RWMutex
	cred Credential
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// WithGracePeriod sets the expiry margin. Values below MinGracePeriod are
// raised to it.
func WithGracePeriod(grace time.Duration) StoreOption {
	return func(s *Store) {
		if grace < MinGracePeriod {
			grace = MinGracePeriod
		}
		s.grace = grace
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCache shares credentials through cache under key.
func WithCache(cache TokenCache, key string) StoreOption {
	return func(s *Store) {
		s.cache = cache
		s.cacheKey = key
	}
}

// WithInitialCredential seeds the store, for example with a token read
// from configuration.
func WithInitialCredential(cred Credential) StoreOption {
	return func(s *Store) {
		s.cred = cred
	}
}

// NewStore creates a Store for the identity name.
func NewStore(name string, refresher Refresher, opts ...StoreOption) *Store {
	s := &Store{
		name:      name,
		refresher: refresher,
		logger:    observability.NopLogger(),
		grace:     DefaultGracePeriod,
		now:       time.Now,
		sem:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheKey == "" {
		s.cacheKey = name
	}
	return s
}

// Name returns the identity name.
func (s *Store) Name() string {
	return s.name
}

// GracePeriod returns the effective grace period.
func (s *Store) GracePeriod() time.Duration {
	return s.grace
}

// Current returns the stored credential without refreshing.
func (s *Store) Current() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// GetToken returns a usable token, refreshing first when the stored one
// is missing or about to expire.
func (s *Store) GetToken(ctx context.Context) (string, error) {
	if cred := s.Current(); cred.Usable(s.now(), s.grace) {
		return cred.Token, nil
	}

	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()

	// Another caller may have refreshed while we waited.
	if cred := s.Current(); cred.Usable(s.now(), s.grace) {
		return cred.Token, nil
	}

	if cred, ok := s.loadShared(ctx); ok {
		s.set(cred)
		return cred.Token, nil
	}

	cred, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// ForceRefresh exchanges the secrets unconditionally and replaces the
// stored credential.
func (s *Store) ForceRefresh(ctx context.Context) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()

	s.dropShared(ctx)
	cred, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// Renew replaces a token the provider rejected. When another caller has
// already replaced it, the newer credential is returned without a second
// exchange.
func (s *Store) Renew(ctx context.Context, rejected string) (string, error) {
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()

	if cred := s.Current(); cred.Token != rejected && cred.Usable(s.now(), s.grace) {
		return cred.Token, nil
	}

	s.dropShared(ctx)
	cred, err := s.refresh(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() {
	<-s.sem
}

func (s *Store) set(cred Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

// refresh must be called with sem held.
func (s *Store) refresh(ctx context.Context) (Credential, error) {
	if s.refresher == nil {
		return Credential{}, fmt.Errorf("%w: no refresher for %s", util.ErrCredentialsMissing, s.name)
	}

	start := s.now()
	cred, err := s.refresher.Refresh(ctx)
	duration := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordRefresh(s.name, s.refresher.Kind(), err, duration)
	}
	if err != nil {
		s.logger.Warn("credential refresh failed",
			observability.String("resource", s.name),
			observability.String("kind", s.refresher.Kind()),
			observability.Error(err),
		)
		return Credential{}, err
	}
	if cred.Token == "" {
		return Credential{}, fmt.Errorf("%w: %s refresher returned an empty token", util.ErrAuthenticationFailed, s.name)
	}

	s.set(cred)
	s.saveShared(ctx, cred)

	expiry := observability.String("expires_at", "unknown")
	if cred.HasExpiry() {
		expiry = observability.Time("expires_at", cred.ExpiresAt)
		if s.metrics != nil {
			s.metrics.SetTokenExpiry(s.name, s.refresher.Kind(), cred.ExpiresAt)
		}
	}
	s.logger.Info("credential refreshed",
		observability.String("resource", s.name),
		observability.String("kind", s.refresher.Kind()),
		expiry,
	)
	return cred, nil
}

func (s *Store) loadShared(ctx context.Context) (Credential, bool) {
	if s.cache == nil {
		return Credential{}, false
	}

	cred, ok, err := s.cache.Load(ctx, s.cacheKey)
	if err != nil {
		s.logger.Warn("shared credential cache read failed",
			observability.String("resource", s.name),
			observability.Error(err),
		)
		return Credential{}, false
	}
	if !ok || !cred.Usable(s.now(), s.grace) {
		if s.metrics != nil {
			s.metrics.RecordCacheMiss(s.name)
		}
		return Credential{}, false
	}

	if s.metrics != nil {
		s.metrics.RecordCacheHit(s.name)
	}
	s.logger.Debug("credential loaded from shared cache",
		observability.String("resource", s.name),
	)
	return cred, true
}

func (s *Store) saveShared(ctx context.Context, cred Credential) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(ctx, s.cacheKey, cred); err != nil {
		s.logger.Warn("shared credential cache write failed",
			observability.String("resource", s.name),
			observability.Error(err),
		)
	}
}

func (s *Store) dropShared(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey); err != nil {
		s.logger.Warn("shared credential cache delete failed",
			observability.String("resource", s.name),
			observability.Error(err),
		)
	}
}
