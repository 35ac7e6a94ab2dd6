// Package bqstore appends records to BigQuery tables.
package bqstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

// Method selects how rows reach BigQuery.
type Method string

const (
	// MethodLoad runs one append load job per record.
	MethodLoad Method = "load"
	// MethodStream uses the streaming insert API.
	MethodStream Method = "stream"
)

// Store writes into tables of a single dataset.
type Store struct {
	client  *bigquery.Client
	dataset string
	method  Method
}

// New creates a BigQuery client for project. Credentials come from the
// environment (application default credentials).
func New(ctx context.Context, project, dataset string, method Method) (*Store, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if method == "" {
		method = MethodLoad
	}
	return &Store{client: client, dataset: dataset, method: method}, nil
}

// Export appends rec to table, creating the table from the record schema if needed.
func (s *Store) Export(ctx context.Context, table string, rec collector.Record) error {
	t := s.client.Dataset(s.dataset).Table(table)

	if s.method == MethodStream {
		if err := t.Inserter().Put(ctx, rec); err != nil {
			return fmt.Errorf("insert into %s.%s: %w", s.dataset, table, err)
		}
		return nil
	}

	schema, err := bigquery.InferSchema(rec)
	if err != nil {
		return fmt.Errorf("infer schema: %w", err)
	}
	row, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(append(row, '\n')))
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := t.LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.JobIDConfig = bigquery.JobIDConfig{JobID: JobID(table), AddJobIDSuffix: true}

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("start load into %s.%s: %w", s.dataset, table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("load job %s: %w", job.ID(), err)
	}
	return nil
}

// JobID builds a load job id prefix for table.
func JobID(table string) string {
	return "copenhagen_" + table + "_" + uuid.NewString()[:8]
}

func (s *Store) Close() error {
	return s.client.Close()
}
