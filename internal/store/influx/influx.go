// Package influx writes records as InfluxDB points.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

// Store writes one point per record. The table name is the measurement and
// geo_name is the only tag.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	now      func() time.Time
}

func New(url, token, org, bucket string) *Store {
	client := influxdb2.NewClient(url, token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		now:      time.Now,
	}
}

func (s *Store) Export(ctx context.Context, table string, rec collector.Record) error {
	if err := s.writeAPI.WritePoint(ctx, BuildPoint(table, rec, s.now())); err != nil {
		return fmt.Errorf("write point to %s: %w", table, err)
	}
	return nil
}

// BuildPoint maps every column except geo_name to a field.
func BuildPoint(table string, rec collector.Record, ts time.Time) *write.Point {
	tags := map[string]string{"geo_name": rec.GeoName()}
	fields := make(map[string]interface{})

	values := rec.Values()
	for i, col := range rec.Columns() {
		if col == "geo_name" {
			continue
		}
		fields[col] = values[i]
	}
	return write.NewPoint(table, tags, fields, ts)
}

func (s *Store) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
