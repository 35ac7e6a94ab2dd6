package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/lock"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/metrics"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/trigger"
)

type fakeRunner struct {
	runs   int
	err    error
	last   *collector.RunResult
	ctxErr error
}

func (f *fakeRunner) RunOnce(ctx context.Context) (collector.RunResult, error) {
	f.ctxErr = ctx.Err()
	if f.ctxErr != nil {
		return collector.RunResult{}, f.ctxErr
	}
	if f.err != nil {
		return collector.RunResult{}, f.err
	}
	f.runs++
	res := collector.RunResult{RunID: "run-1", Done: 39, Failed: 1, Elapsed: 2 * time.Second}
	f.last = &res
	return res, nil
}

func (f *fakeRunner) LastRun() (collector.RunResult, bool) {
	if f.last == nil {
		return collector.RunResult{}, false
	}
	return *f.last, true
}

func newTestApp(runner Runner, reader RecordReader) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, runner, reader)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestPubSubPushStartsRun(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(runner, nil)

	body := trigger.EncodePubSub([]byte("run"))
	req := httptest.NewRequest(http.MethodPost, "/pubsub", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := do(t, app, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var got runSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if runner.runs != 1 || got.RunID != "run-1" || got.Done != 39 || got.Failed != 1 {
		t.Fatalf("unexpected summary %+v after %d runs", got, runner.runs)
	}
	if got.FailRatio != 0.025 {
		t.Fatalf("expected failure ratio 0.025, got %v", got.FailRatio)
	}
}

func TestPubSubRejectsBadEnvelope(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(runner, nil)

	for _, body := range []string{`not json`, `{"subscription":"s"}`} {
		req := httptest.NewRequest(http.MethodPost, "/pubsub", strings.NewReader(body))
		resp := do(t, app, req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: expected status %d, got %d", body, http.StatusBadRequest, resp.StatusCode)
		}
	}
	if runner.runs != 0 {
		t.Fatalf("expected no runs, got %d", runner.runs)
	}
}

func TestRunConflictsWhileLockHeld(t *testing.T) {
	app := newTestApp(&fakeRunner{err: lock.ErrHeld}, nil)

	resp := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.StatusCode)
	}
}

func TestLastRun(t *testing.T) {
	runner := &fakeRunner{}
	app := newTestApp(runner, nil)

	resp := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/runs/last", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d before any run, got %d", http.StatusNotFound, resp.StatusCode)
	}

	resp = do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/runs/last", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var got collector.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" {
		t.Fatalf("unexpected last run %+v", got)
	}
}

func TestLatestRecordValidation(t *testing.T) {
	mem := store.NewMemoryStore(0)
	rec := &collector.WeatherRecord{GeoNameValue: "bispeengbuen/aagade", Temperature: 10}
	if err := mem.Export(context.Background(), "weather_table", rec); err != nil {
		t.Fatalf("export: %v", err)
	}
	app := newTestApp(&fakeRunner{}, mem)

	tests := []struct {
		url  string
		want int
	}{
		{"/api/v1/records/latest?geo=x", http.StatusBadRequest},
		{"/api/v1/records/latest?table=users&geo=x", http.StatusBadRequest},
		{"/api/v1/records/latest?table=weather_table", http.StatusBadRequest},
		{"/api/v1/records/latest?table=traffic_table&geo=bispeengbuen%2Faagade", http.StatusNotFound},
		{"/api/v1/records/latest?table=weather_table&geo=bispeengbuen%2Faagade", http.StatusOK},
	}
	for _, tt := range tests {
		resp := do(t, app, httptest.NewRequest(http.MethodGet, tt.url, nil))
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: expected status %d, got %d", tt.url, tt.want, resp.StatusCode)
		}
	}
}

func TestLatestRecordWithoutReader(t *testing.T) {
	app := newTestApp(&fakeRunner{}, nil)

	resp := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/records/latest?table=weather_table&geo=x", nil))
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected status %d, got %d", http.StatusNotImplemented, resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.PairFinished(collector.PairOutcome{Kind: collector.KindWeather, State: collector.StateDone})

	app := fiber.New()
	RegisterMetrics(app, m.Registry)

	resp := do(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "etl_pairs_total") {
		t.Fatalf("expected pair counter in output, got:\n%s", body)
	}
}

func TestBaseContextCancelsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	app := fiber.New()
	app.Use(WithBaseContext(ctx))
	RegisterRoutes(app, runner, nil)

	resp := do(t, app, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, resp.StatusCode)
	}
	if !errors.Is(runner.ctxErr, context.Canceled) || runner.runs != 0 {
		t.Fatalf("expected the run to see a cancelled context, got %v after %d runs", runner.ctxErr, runner.runs)
	}
}
