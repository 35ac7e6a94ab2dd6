package collector

import (
	"context"
	"time"
)

// Fetcher retrieves the raw JSON payload for a geo-point from one provider.
type Fetcher interface {
	Fetch(ctx context.Context, point GeoPoint) ([]byte, error)
}

// Normalizer turns a raw payload into a record stamped with now.
type Normalizer func(raw []byte, point GeoPoint, now time.Time) (Record, error)

// Exporter appends a single record to a table.
type Exporter interface {
	Export(ctx context.Context, table string, rec Record) error
}

// Pipeline binds a data kind to its fetcher, normalizer and destination table.
type Pipeline struct {
	Kind      DataKind
	Fetcher   Fetcher
	Normalize Normalizer
	Table     string
}

// Recorder observes pair and run outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	PairFinished(outcome PairOutcome)
	RunFinished(result RunResult)
}

type nopRecorder struct{}

func (nopRecorder) PairFinished(PairOutcome) {}
func (nopRecorder) RunFinished(RunResult)    {}
