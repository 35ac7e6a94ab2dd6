package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/retry"
)

// DefaultBreakerFailures is how many consecutive server-side failures open the
// circuit. It is well above one geo-point's retry budget.
const DefaultBreakerFailures = 20

var (
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
	errNoAPIKey     = errors.New("api key is not configured")
)

// statusError carries the status of a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("%v: %d", errUnexpected, e.code) }
func (e *statusError) Is(target error) bool { return target == errUnexpected }

// countsAgainstCircuit reports whether err says anything about provider health.
// 4xx answers are specific to the request, not the provider.
func countsAgainstCircuit(err error) bool {
	if err == nil {
		return false
	}
	var se *statusError
	if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
		return false
	}
	return true
}

// AttemptObserver is told about every HTTP attempt. status is 0 when no
// response was received.
type AttemptObserver func(kind collector.DataKind, status int, err error)

// Endpoint describes a provider URL. The template may use {lat}, {lon} and
// {api_key} placeholders.
type Endpoint struct {
	Kind        collector.DataKind
	URLTemplate string
	APIKey      string
}

// Fetcher issues GET requests against one endpoint with bounded retries and a
// circuit breaker shared by all geo-points of that provider.
type Fetcher struct {
	endpoint Endpoint
	client   *http.Client
	policy   retry.Policy
	circuit  *gobreaker.CircuitBreaker // nil when disabled
	observe  AttemptObserver

	breakerFailures uint32
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithAttemptObserver registers a callback invoked after each attempt.
func WithAttemptObserver(fn AttemptObserver) FetcherOption {
	return func(f *Fetcher) { f.observe = fn }
}

// WithBreakerFailures sets how many consecutive server-side failures open the
// circuit. 0 disables the breaker.
func WithBreakerFailures(n uint32) FetcherOption {
	return func(f *Fetcher) { f.breakerFailures = n }
}

// NewFetcher creates a Fetcher for the endpoint.
func NewFetcher(client *http.Client, ep Endpoint, policy retry.Policy, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		endpoint:        ep,
		client:          client,
		policy:          policy,
		observe:         func(collector.DataKind, int, error) {},
		breakerFailures: DefaultBreakerFailures,
	}
	for _, opt := range opts {
		opt(f)
	}

	if threshold := f.breakerFailures; threshold > 0 {
		f.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(ep.Kind),
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return !countsAgainstCircuit(err)
			},
		})
	}
	return f
}

// Kind reports which data kind the fetcher serves.
func (f *Fetcher) Kind() collector.DataKind {
	return f.endpoint.Kind
}

// BuildURL substitutes the placeholders of template with query-escaped values.
func BuildURL(template, lat, lon, apiKey string) string {
	r := strings.NewReplacer(
		"{lat}", url.QueryEscape(lat),
		"{lon}", url.QueryEscape(lon),
		"{api_key}", url.QueryEscape(apiKey),
	)
	return r.Replace(template)
}

// Fetch returns the response body for point. On failure the error is a
// *collector.FetchError carrying the last status and the number of requests
// actually sent.
func (f *Fetcher) Fetch(ctx context.Context, point collector.GeoPoint) ([]byte, error) {
	fetchErr := func(status, attempts int, err error) error {
		return &collector.FetchError{
			Kind:       f.endpoint.Kind,
			GeoName:    point.Name,
			StatusCode: status,
			Attempts:   attempts,
			Err:        err,
		}
	}

	if f.client == nil {
		return nil, fetchErr(0, 0, errNoHTTPClient)
	}
	if f.endpoint.APIKey == "" {
		return nil, fetchErr(0, 0, errNoAPIKey)
	}

	target := BuildURL(f.endpoint.URLTemplate, point.Latitude, point.Longitude, f.endpoint.APIKey)

	var (
		body   []byte
		status int
		sent   int
	)
	_, err := retry.Do(ctx, f.policy, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return retry.Stop(err)
		}

		result, err := f.execute(func() (interface{}, error) {
			sent++
			resp, execErr := f.client.Do(req)
			if execErr != nil {
				status = 0
				return nil, execErr
			}
			defer resp.Body.Close()

			status = resp.StatusCode
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil, &statusError{code: resp.StatusCode}
			}
			return io.ReadAll(resp.Body)
		})
		if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
			return retry.Stop(fmt.Errorf("%w: %v", errCircuitOpen, err))
		}
		f.observe(f.endpoint.Kind, status, err)

		if err != nil {
			logger.Debugf("%s attempt %d for %s failed: %v", f.endpoint.Kind, attempt, point.Name, err)
			return err
		}

		b, ok := result.([]byte)
		if !ok {
			return retry.Stop(fmt.Errorf("unexpected result type from circuit breaker"))
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fetchErr(status, sent, err)
	}
	return body, nil
}

func (f *Fetcher) execute(req func() (interface{}, error)) (interface{}, error) {
	if f.circuit == nil {
		return req()
	}
	return f.circuit.Execute(req)
}
