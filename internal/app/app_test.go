package app

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector/providers"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/config"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/lock"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/secrets"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store"
)

const weatherBody = `{"weather":[{"main":"Rain","description":"light rain"}],"main":{"temp":283.15,"feels_like":282.15,"temp_min":281.15,"temp_max":284.15,"pressure":1001,"humidity":88},"visibility":9000,"wind":{"speed":6.2,"deg":200},"clouds":{"all":90},"sys":{"country":"DK"},"name":"Copenhagen"}`

const trafficBody = `{"flowSegmentData":{"frc":"FRC1","currentSpeed":45,"freeFlowSpeed":50,"currentTravelTime":30,"freeFlowTravelTime":27,"confidence":1,"roadClosure":false,"coordinates":{"coordinate":[{"latitude":55.6,"longitude":12.5},{"latitude":55.61,"longitude":12.51}]}}}`

type staticSecrets map[string]string

func (s staticSecrets) Get(_ context.Context, id string) (secrets.Value, error) {
	if v, ok := s[id]; ok {
		return secrets.Value{Raw: v}, nil
	}
	return secrets.Value{}, &secrets.SecretResolutionError{SecretID: id, Err: secrets.ErrNotFound}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string) (func(), error) { return nil, lock.ErrHeld }

func testConfig(t *testing.T, baseURL string) *config.AppConfig {
	t.Helper()
	points, err := config.LoadGeoPoints("")
	if err != nil {
		t.Fatalf("geo-points: %v", err)
	}
	return &config.AppConfig{
		Location:            time.UTC,
		GeoPoints:           points[:3],
		TomTomSecretID:      "TOMTOM_API_KEY",
		OpenWeatherSecretID: "OPENWEATHER_API_KEY",
		WeatherURLTemplate:  baseURL + "/weather?lat={lat}&lon={lon}&appid={api_key}",
		TrafficURLTemplate:  baseURL + "/traffic?key={api_key}&point={lat},{lon}",
		HTTPTimeout:         time.Second,
		FetchMaxAttempts:    3,
		FetchRetryDelay:     time.Millisecond,
		RunConcurrency:      1,
		FailRateThreshold:   0.2,
		Store: config.StoreConfig{
			Type:         "memory",
			Dataset:      "copenhagen_data",
			WeatherTable: "weather_table",
			TrafficTable: "traffic_table",
		},
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/weather"):
			_, _ = w.Write([]byte(weatherBody))
		case strings.Contains(r.URL.RawQuery, "point=55.681952"):
			// geo-point 2 traffic is always down
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(trafficBody))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceEndToEnd(t *testing.T) {
	srv := newServer(t)
	cfg := testConfig(t, srv.URL)
	mem := store.NewMemoryStore(0)

	a, err := New(context.Background(), cfg, Deps{
		Exporter: mem,
		Secrets:  staticSecrets{"TOMTOM_API_KEY": "t", "OPENWEATHER_API_KEY": "o"},
		Client:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if _, ok := a.LastRun(); ok {
		t.Fatal("expected no last run before the first run")
	}

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Done != 5 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	weather, _ := mem.Rows("weather_table")
	traffic, _ := mem.Rows("traffic_table")
	if len(weather) != 3 || len(traffic) != 2 {
		t.Fatalf("expected 3 weather and 2 traffic rows, got %d and %d", len(weather), len(traffic))
	}
	if w := weather[0].(*collector.WeatherRecord); math.Abs(w.Temperature-10) > 1e-9 || w.GeoName() != "bispeengbuen/aagade" {
		t.Fatalf("unexpected first weather row %+v", w)
	}

	last, ok := a.LastRun()
	if !ok || last.RunID != res.RunID {
		t.Fatalf("unexpected last run %+v", last)
	}
	if rs, ok := a.Records(); !ok || rs != mem {
		t.Fatal("expected the memory store to be exposed")
	}

	// 1 of 6 pairs failed, which is below the 0.2 threshold
	if a.ExceedsFailureThreshold(res) {
		t.Fatalf("failure rate %v should not exceed threshold", res.FailureRate())
	}
}

func TestRunOnceWithoutKeysFailsEveryPair(t *testing.T) {
	srv := newServer(t)
	cfg := testConfig(t, srv.URL)

	a, err := New(context.Background(), cfg, Deps{
		Exporter: store.NewMemoryStore(0),
		Secrets:  staticSecrets{},
		Client:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed != 6 || !a.ExceedsFailureThreshold(res) {
		t.Fatalf("expected every pair to fail, got %+v", res)
	}
}

func TestRunOnceRespectsLock(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	a, err := New(context.Background(), cfg, Deps{
		Exporter: store.NewMemoryStore(0),
		Secrets:  staticSecrets{},
		Locker:   heldLock{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.RunOnce(context.Background()); !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("expected lock.ErrHeld, got %v", err)
	}
}

func TestNewExporterUnknownType(t *testing.T) {
	if _, err := NewExporter(context.Background(), config.StoreConfig{Type: "csv"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFailingTrafficPointsDoNotBlockOthers(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/weather") {
			_, _ = w.Write([]byte(weatherBody))
			return
		}
		p := r.URL.Query().Get("point")
		mu.Lock()
		hits[p]++
		mu.Unlock()
		// the first two geo-points are rejected by the provider
		if p == "55.690388,12.537862" || p == "55.681952,12.557837" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(trafficBody))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	points, _ := config.LoadGeoPoints("")
	cfg.GeoPoints = points[:4]
	cfg.BreakerFailures = providers.DefaultBreakerFailures
	mem := store.NewMemoryStore(0)

	a, err := New(context.Background(), cfg, Deps{
		Exporter: mem,
		Secrets:  staticSecrets{"TOMTOM_API_KEY": "t", "OPENWEATHER_API_KEY": "o"},
		Client:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Done != 6 || res.Failed != 2 {
		t.Fatalf("expected 6 done and 2 failed, got %+v", res)
	}
	traffic, _ := mem.Rows("traffic_table")
	if len(traffic) != 2 {
		t.Fatalf("expected traffic rows for geo-points 3 and 4, got %d (hits %v)", len(traffic), hits)
	}
	for _, o := range res.Outcomes {
		if o.Kind != collector.KindTraffic || o.State != collector.StateFailed {
			continue
		}
		var ferr *collector.FetchError
		if !errors.As(o.Err, &ferr) || ferr.Attempts != 3 || ferr.StatusCode != http.StatusBadRequest {
			t.Fatalf("unexpected failure for %s: %v", o.GeoName, o.Err)
		}
	}
}

type closeTrackingStore struct {
	*store.MemoryStore
	mu     sync.Mutex
	closed bool
}

func (s *closeTrackingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *closeTrackingStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestCloseWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.HTTPTimeout = time.Minute
	exp := &closeTrackingStore{MemoryStore: store.NewMemoryStore(0)}

	a, err := New(context.Background(), cfg, Deps{
		Exporter: exp,
		Secrets:  staticSecrets{"TOMTOM_API_KEY": "t", "OPENWEATHER_API_KEY": "o"},
		Client:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan collector.RunResult, 1)
	go func() {
		res, _ := a.RunOnce(ctx)
		runDone <- res
	}()
	<-started

	closeDone := make(chan struct{})
	go func() {
		_ = a.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned while a run was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	if exp.isClosed() {
		t.Fatal("exporter closed while a run was in flight")
	}

	cancel()
	res := <-runDone
	select {
	case <-closeDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the run finished")
	}
	if !exp.isClosed() {
		t.Fatal("expected the exporter to be closed")
	}
	if res.Done != 0 || res.Failed+res.Skipped != 6 {
		t.Fatalf("expected every pair to be cancelled, got %+v", res)
	}
	if _, err := a.RunOnce(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
