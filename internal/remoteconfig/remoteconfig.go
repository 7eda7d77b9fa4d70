// Package remoteconfig serves feature flags fetched from a remote source,
// falling back to the last fetched snapshot and then to built-in defaults.
package remoteconfig

import (
	"context"
	"sync"
	"time"

	"todo-go/internal/todo"
)

const (
	FetchTimeout         = 10 * time.Second
	MinimumFetchInterval = 60 * time.Second
	DefaultWelcome       = "Hola"
)

// Values are the flags served to the app. Fetchers decode them from a JSON
// object using the remote parameter names.
type Values struct {
	EnableBulkActions bool   `json:"feature_enableBulkActions"`
	Welcome           string `json:"ui_welcome"`
}

// Defaults returns the values used before any fetch succeeds.
func Defaults() Values {
	return Values{Welcome: DefaultWelcome}
}

// Fetcher retrieves the current remote values.
type Fetcher interface {
	Fetch(ctx context.Context) (Values, error)
}

// snapshot is the cached form of the last successful fetch.
type snapshot struct {
	FeatureEnableBulkActions bool      `json:"featureEnableBulkActions"`
	Welcome                  string    `json:"welcome"`
	FetchedAt                time.Time `json:"fetchedAt"`
}

// Service holds the active flag values. Safe for concurrent use.
type Service struct {
	fetcher Fetcher
	cache   todo.Cache
	clock   todo.Clock
	logger  todo.Logger

	mu     sync.RWMutex
	values Values
}

// NewService creates a Service serving defaults until Init runs.
// A nil fetcher serves the cached snapshot or defaults only.
func NewService(fetcher Fetcher, cache todo.Cache, clock todo.Clock, logger todo.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		clock:   clock,
		logger:  logger,
		values:  Defaults(),
	}
}

// Init activates the cached snapshot and then fetches fresh values, unless
// the snapshot is younger than MinimumFetchInterval. A failed fetch keeps
// the cached values.
func (s *Service) Init(ctx context.Context) {
	cached, err := todo.CacheGet[*snapshot](ctx, s.cache, todo.RemoteConfigCacheKey, nil)
	if err != nil {
		s.logger.Warn("reading cached remote config failed", "error", err)
	}
	if cached != nil {
		s.activate(Values{EnableBulkActions: cached.FeatureEnableBulkActions, Welcome: cached.Welcome})
	}

	if s.fetcher == nil {
		return
	}
	now := s.clock.Now()
	if cached != nil && now.Sub(cached.FetchedAt) < MinimumFetchInterval {
		s.logger.Debug("remote config fetched recently, using cached values", "fetched_at", cached.FetchedAt)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()
	values, err := s.fetcher.Fetch(fetchCtx)
	if err != nil {
		s.logger.Warn("remote config fetch failed, using cached values", "error", err)
		return
	}
	s.activate(values)

	snap := snapshot{FeatureEnableBulkActions: values.EnableBulkActions, Welcome: values.Welcome, FetchedAt: now}
	if err := todo.CacheSet(ctx, s.cache, todo.RemoteConfigCacheKey, snap); err != nil {
		s.logger.Warn("caching remote config failed", "error", err)
	}
	s.logger.Info("remote config activated", "bulk_actions", values.EnableBulkActions)
}

func (s *Service) activate(v Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = v
}

func (s *Service) IsBulkActionsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values.EnableBulkActions
}

// WelcomeMessage returns the remote greeting, or DefaultWelcome when it is empty.
func (s *Service) WelcomeMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values.Welcome == "" {
		return DefaultWelcome
	}
	return s.values.Welcome
}

// StaticFetcher returns fixed values, typically from the config file.
type StaticFetcher struct {
	Values Values
}

func (f StaticFetcher) Fetch(context.Context) (Values, error) {
	return f.Values, nil
}
