package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/retry"
)

var point = collector.GeoPoint{ID: 1, Name: "bispeengbuen/aagade", Latitude: "55.690388", Longitude: "12.537862"}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Delay: 5 * time.Millisecond}
}

func TestBuildURL(t *testing.T) {
	got := BuildURL(TomTomURL, "55.690388", "12.537862", "k&y")
	want := "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute/20/json?key=k%26y&point=55.690388,12.537862"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "secret" || r.URL.Query().Get("lat") != "55.690388" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var observed int32
	f := NewOpenWeatherFetcher(srv.Client(), "secret", srv.URL+"/weather?lat={lat}&lon={lon}&appid={api_key}", fastPolicy(),
		WithAttemptObserver(func(kind collector.DataKind, status int, err error) {
			atomic.AddInt32(&observed, 1)
		}))

	body, err := f.Fetch(context.Background(), point)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", body)
	}
	if calls != 3 || observed != 3 {
		t.Fatalf("expected 3 attempts, got calls=%d observed=%d", calls, observed)
	}
}

func TestFetchFailsAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewTomTomFetcher(srv.Client(), "secret", srv.URL+"/flow?key={api_key}&point={lat},{lon}", fastPolicy())

	_, err := f.Fetch(context.Background(), point)
	var ferr *collector.FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *collector.FetchError, got %v", err)
	}
	if ferr.Attempts != 3 || calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", ferr.Attempts, calls)
	}
	if ferr.StatusCode != http.StatusForbidden || ferr.Kind != collector.KindTraffic || ferr.GeoName != point.Name {
		t.Fatalf("unexpected error context: %+v", ferr)
	}
}

func TestFetchWithoutAPIKey(t *testing.T) {
	f := NewTomTomFetcher(http.DefaultClient, "", "", fastPolicy())
	_, err := f.Fetch(context.Background(), point)
	if !errors.Is(err, errNoAPIKey) {
		t.Fatalf("expected errNoAPIKey, got %v", err)
	}
}

func TestFetchOpensCircuit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewOpenWeatherFetcher(srv.Client(), "secret", srv.URL+"/?lat={lat}&lon={lon}&appid={api_key}", fastPolicy(),
		WithBreakerFailures(5))
	for i := 0; i < 2; i++ {
		_, _ = f.Fetch(context.Background(), point)
	}
	// six consecutive 502s reach the threshold of five
	before := atomic.LoadInt32(&calls)
	_, err := f.Fetch(context.Background(), point)
	if !errors.Is(err, errCircuitOpen) {
		t.Fatalf("expected errCircuitOpen, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatal("request was sent while the circuit was open")
	}

	var ferr *collector.FetchError
	if !errors.As(err, &ferr) || ferr.Attempts != 0 || ferr.StatusCode != 0 {
		t.Fatalf("expected a rejected fetch to report no attempts, got %+v", ferr)
	}
}

func TestFailingPointsDoNotBlockHealthyOnes(t *testing.T) {
	points := []collector.GeoPoint{
		{ID: 1, Name: "a", Latitude: "55.1", Longitude: "12.1"},
		{ID: 2, Name: "b", Latitude: "55.2", Longitude: "12.2"},
		{ID: 3, Name: "c", Latitude: "55.3", Longitude: "12.3"},
		{ID: 4, Name: "d", Latitude: "55.4", Longitude: "12.4"},
	}

	for _, code := range []int{http.StatusBadRequest, http.StatusServiceUnavailable} {
		var healthyHits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("point") {
			case "55.1,12.1", "55.2,12.2":
				w.WriteHeader(code)
			default:
				atomic.AddInt32(&healthyHits, 1)
				_, _ = w.Write([]byte(`{}`))
			}
		}))

		f := NewTomTomFetcher(srv.Client(), "secret", srv.URL+"/flow?key={api_key}&point={lat},{lon}", fastPolicy())
		for _, p := range points {
			_, err := f.Fetch(context.Background(), p)
			switch p.ID {
			case 1, 2:
				var ferr *collector.FetchError
				if !errors.As(err, &ferr) || ferr.Attempts != 3 || ferr.StatusCode != code {
					t.Fatalf("status %d, point %d: expected 3 failed attempts, got %v", code, p.ID, err)
				}
			default:
				if err != nil {
					t.Fatalf("status %d, point %d: unexpected error %v", code, p.ID, err)
				}
			}
		}
		if healthyHits != 2 {
			t.Fatalf("status %d: expected both healthy points to be requested, got %d", code, healthyHits)
		}
		srv.Close()
	}
}

func TestFetchWithoutBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewOpenWeatherFetcher(srv.Client(), "secret", srv.URL+"/?lat={lat}&lon={lon}&appid={api_key}", fastPolicy(),
		WithBreakerFailures(0))
	for i := 0; i < 10; i++ {
		_, _ = f.Fetch(context.Background(), point)
	}
	if calls != 30 {
		t.Fatalf("expected every attempt to be sent, got %d", calls)
	}
}
