package httpapi

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/lock"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/trigger"
)

var validate = validator.New()

// Runner starts runs and reports the last one.
type Runner interface {
	RunOnce(ctx context.Context) (collector.RunResult, error)
	LastRun() (collector.RunResult, bool)
}

// RecordReader serves exported rows back. Only the in-memory store implements it.
type RecordReader interface {
	Latest(table, geoName string) (collector.Record, error)
}

// WithBaseContext makes ctx the user context of every request so that
// cancelling ctx stops runs started by a handler.
func WithBaseContext(ctx context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. reader may be nil.
func RegisterRoutes(app *fiber.App, runner Runner, reader RecordReader) {
	// Pub/Sub push subscription endpoint.
	app.Post("/pubsub", func(c *fiber.Ctx) error {
		res, err := trigger.HandlePubSub(c.UserContext(), runner, c.Body())
		if err != nil {
			return runError(err)
		}
		return c.JSON(summary(res))
	})

	v1 := app.Group("/api/v1")

	v1.Post("/runs", func(c *fiber.Ctx) error {
		res, err := runner.RunOnce(c.UserContext())
		if err != nil {
			return runError(err)
		}
		return c.JSON(summary(res))
	})

	v1.Get("/runs/last", func(c *fiber.Ctx) error {
		res, ok := runner.LastRun()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no run has completed yet")
		}
		return c.JSON(res)
	})

	v1.Get("/records/latest", func(c *fiber.Ctx) error {
		if reader == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "records are only served by the memory store")
		}

		q := latestQuery{Table: c.Query("table"), Geo: c.Query("geo")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rec, err := reader.Latest(q.Table, q.Geo)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no record for requested table and geo-point")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read record")
		}
		return c.JSON(rec)
	})
}

// RegisterMetrics exposes g on /metrics.
func RegisterMetrics(app *fiber.App, g prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// latestQuery holds query parameters for the latest record endpoint.
type latestQuery struct {
	Table string `validate:"required,oneof=weather_table traffic_table"`
	Geo   string `validate:"required"`
}

type runSummary struct {
	RunID     string                                       `json:"run_id"`
	Elapsed   string                                       `json:"elapsed"`
	Done      int                                          `json:"done"`
	Failed    int                                          `json:"failed"`
	Skipped   int                                          `json:"skipped"`
	ByKind    map[collector.DataKind]collector.KindSummary `json:"by_kind"`
	FailRatio float64                                      `json:"failure_ratio"`
}

func summary(res collector.RunResult) runSummary {
	return runSummary{
		RunID:     res.RunID,
		Elapsed:   res.Elapsed.String(),
		Done:      res.Done,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		ByKind:    res.ByKind,
		FailRatio: res.FailureRate(),
	}
}

func runError(err error) error {
	switch {
	case errors.Is(err, lock.ErrHeld):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, trigger.ErrEmptyEnvelope), errors.Is(err, trigger.ErrInvalidEnvelope):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
