package collector

import (
	"errors"
	"fmt"
)

var (
	errMissingField = errors.New("missing field")
	errEmptyRecord  = errors.New("normalizer produced no record")
)

// FetchError is returned when a provider request did not succeed within the
// retry policy.
type FetchError struct {
	Kind       DataKind
	GeoName    string
	StatusCode int // last HTTP status seen, 0 if no response was received
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s data for %s failed after %d attempt(s) (status %d): %v",
		e.Kind, e.GeoName, e.Attempts, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeError is returned when a payload cannot be turned into a complete record.
type NormalizeError struct {
	Kind    DataKind
	GeoName string
	Field   string
	Err     error
}

func (e *NormalizeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalize %s data for %s: %s: %v", e.Kind, e.GeoName, e.Field, e.Err)
	}
	return fmt.Sprintf("normalize %s data for %s: %v", e.Kind, e.GeoName, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// ExportError is returned when a record could not be appended to its table.
type ExportError struct {
	Kind    DataKind
	GeoName string
	Table   string
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s data for %s to %s: %v", e.Kind, e.GeoName, e.Table, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

func missingField(kind DataKind, geo, field string) error {
	return &NormalizeError{Kind: kind, GeoName: geo, Field: field, Err: errMissingField}
}
