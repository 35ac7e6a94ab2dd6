package store

import (
	"context"
	"errors"
	"sync"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

var (
	// ErrNotFound is returned when a table has no matching rows.
	ErrNotFound = errors.New("no rows for table")
	// ErrNilRecord is returned when Export is called without a record.
	ErrNilRecord = errors.New("nil record")
)

// MemoryStore is a concurrency-safe, append-only in-memory table store. It
// backs dry runs and the record endpoints when no warehouse is configured.
type MemoryStore struct {
	mu sync.RWMutex

	// key: table name
	tables map[string][]collector.Record

	maxRows int // rows kept per table, 0 = unlimited
}

// NewMemoryStore creates a MemoryStore. If maxRows is <= 0 it is unlimited.
func NewMemoryStore(maxRows int) *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string][]collector.Record),
		maxRows: maxRows,
	}
}

// Export appends rec to table. Existing rows are never modified.
func (s *MemoryStore) Export(_ context.Context, table string, rec collector.Record) error {
	if rec == nil {
		return ErrNilRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := append(s.tables[table], rec)
	if s.maxRows > 0 && len(rows) > s.maxRows {
		rows = rows[len(rows)-s.maxRows:]
	}
	s.tables[table] = rows
	return nil
}

// Rows returns a copy of all rows of table in insertion order.
func (s *MemoryStore) Rows(table string) ([]collector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[table]
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := make([]collector.Record, len(rows))
	copy(out, rows)
	return out, nil
}

// Latest returns the most recent row of table for geoName.
func (s *MemoryStore) Latest(table, geoName string) (collector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.tables[table]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].GeoName() == geoName {
			return rows[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Close() error { return nil }
