// Package pipeline defines the closed set of typed errors raised by the
// forecasting pipeline stages (ingestion, feature engineering, model run,
// validation, storage, orchestration). The fallback detector dispatches over
// these with errors.As; each carries a fixed payload so no attribute probing
// is needed downstream.
package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// DataSourceError reports a failure fetching raw market data.
type DataSourceError struct {
	Source string
	Err    error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("data source %q failed: %v", e.Source, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

// FeatureError reports a failure computing a model feature.
type FeatureError struct {
	Feature string
	Err     error
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("feature %q failed: %v", e.Feature, e.Err)
}

func (e *FeatureError) Unwrap() error { return e.Err }

// ModelError reports a model execution failure for a product/hour.
type ModelError struct {
	Product string
	Hour    time.Time
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model failed for %s at %s: %v",
		e.Product, e.Hour.Format(time.RFC3339), e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ValidationError reports a forecast that failed post-run validation.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("forecast validation failed: %s", strings.Join(e.Errors, "; "))
}

// StorageError reports a storage read or write failure.
// Operation is "read" or "write".
type StorageError struct {
	Path      string
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// StageError reports a pipeline stage failure outside the categories above.
type StageError struct {
	Pipeline string
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q stage %q failed: %v", e.Pipeline, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
