// Package app wires configuration, providers, stores and observers into a
// runnable collector.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector/providers"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/config"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/lock"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/metrics"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/retry"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/secrets"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store"
)

// App owns the long-lived dependencies of the collector.
type App struct {
	cfg      *config.AppConfig
	service  *collector.Service
	exporter Exporter
	locker   lock.Locker
	metrics  *metrics.Metrics
	closers  []func() error

	mu       sync.RWMutex
	last     *collector.RunResult
	closed   bool
	inflight sync.WaitGroup
}

// ErrClosed is returned by RunOnce after Close has been called.
var ErrClosed = errors.New("collector is closed")

// Exporter is a collector.Exporter that holds a connection.
type Exporter interface {
	collector.Exporter
	Close() error
}

// Deps overrides parts of the wiring. Zero fields are built from config.
type Deps struct {
	Exporter Exporter
	Secrets  secrets.Provider
	Locker   lock.Locker
	Client   *http.Client
}

// New resolves secrets once, opens the store and builds the pipelines.
func New(ctx context.Context, cfg *config.AppConfig, deps Deps) (*App, error) {
	a := &App{cfg: cfg, metrics: metrics.New()}

	if deps.Secrets == nil {
		p, closer, err := newSecretProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		deps.Secrets = p
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	tomtomKey := secrets.Resolve(ctx, deps.Secrets, cfg.TomTomSecretID)
	openWeatherKey := secrets.Resolve(ctx, deps.Secrets, cfg.OpenWeatherSecretID)

	if deps.Exporter == nil {
		exp, err := NewExporter(ctx, cfg.Store)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Exporter = exp
	}
	a.exporter = deps.Exporter
	a.closers = append(a.closers, deps.Exporter.Close)

	if deps.Locker == nil {
		deps.Locker = lock.Noop{}
		if cfg.RedisAddr != "" {
			rl := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL)
			deps.Locker = rl
			a.closers = append(a.closers, rl.Close)
		}
	}
	a.locker = deps.Locker

	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	policy := retry.Policy{MaxAttempts: cfg.FetchMaxAttempts, Delay: cfg.FetchRetryDelay}
	observe := providers.WithAttemptObserver(a.metrics.FetchAttempt)
	breaker := providers.WithBreakerFailures(uint32(cfg.BreakerFailures))

	pipelines := []collector.Pipeline{
		{
			Kind:      collector.KindWeather,
			Fetcher:   providers.NewOpenWeatherFetcher(deps.Client, openWeatherKey, cfg.WeatherURLTemplate, policy, observe, breaker),
			Normalize: collector.NormalizeWeather,
			Table:     cfg.Store.WeatherTable,
		},
		{
			Kind:      collector.KindTraffic,
			Fetcher:   providers.NewTomTomFetcher(deps.Client, tomtomKey, cfg.TrafficURLTemplate, policy, observe, breaker),
			Normalize: collector.NormalizeTraffic,
			Table:     cfg.Store.TrafficTable,
		},
	}

	a.service = collector.NewService(a.exporter, cfg.Location, pipelines,
		collector.WithConcurrency(cfg.RunConcurrency),
		collector.WithRecorder(a.metrics),
	)
	return a, nil
}

func newSecretProvider(ctx context.Context, cfg *config.AppConfig) (secrets.Provider, func() error, error) {
	env := secrets.NewEnvProvider()
	if cfg.GCPProjectID == "" {
		return env, nil, nil
	}
	gcp, err := secrets.NewGCPProvider(ctx, cfg.GCPProjectID, cfg.SecretVersion)
	if err != nil {
		// Startup continues; keys may still come from the environment.
		logger.Warnf("secret manager unavailable, falling back to environment: %v", err)
		return env, nil, nil
	}
	return secrets.Chain{gcp, env}, gcp.Close, nil
}

// RunOnce performs a full run over all configured geo-points under the run
// lock and the configured run timeout.
func (a *App) RunOnce(ctx context.Context) (collector.RunResult, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return collector.RunResult{}, ErrClosed
	}
	a.inflight.Add(1)
	a.mu.Unlock()
	defer a.inflight.Done()

	release, err := a.locker.Acquire(ctx, "collect")
	if err != nil {
		return collector.RunResult{}, err
	}
	defer release()

	if a.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}

	res := a.service.Run(ctx, a.cfg.GeoPoints)

	a.mu.Lock()
	a.last = &res
	a.mu.Unlock()

	if a.cfg.PushgatewayURL != "" {
		if err := a.metrics.Push(a.cfg.PushgatewayURL, "copenhagen_etl"); err != nil {
			logger.Warnf("%v", err)
		}
	}
	return res, nil
}

// LastRun returns the result of the most recent run, if any.
func (a *App) LastRun() (collector.RunResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return collector.RunResult{}, false
	}
	return *a.last, true
}

// ExceedsFailureThreshold reports whether res should fail a one-shot run.
func (a *App) ExceedsFailureThreshold(res collector.RunResult) bool {
	return a.cfg.FailRateThreshold > 0 && res.FailureRate() > a.cfg.FailRateThreshold
}

// Metrics returns the registry holder for the /metrics endpoint.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Records returns the in-memory store when it is the active exporter.
func (a *App) Records() (*store.MemoryStore, bool) {
	ms, ok := a.exporter.(*store.MemoryStore)
	return ms, ok
}

// Close waits for in-flight runs, then releases connections in reverse order
// of creation. Cancel the runs' contexts first to make it return promptly.
func (a *App) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.inflight.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
