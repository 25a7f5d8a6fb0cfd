package fallback

import (
	"errors"
	"fmt"
	"time"

	"powercast/pkg/market"
)

// ErrNoPoints is returned when the object-form adjuster is handed an empty
// point list. A usage error, distinct from an adjustment failure.
var ErrNoPoints = errors.New("no forecast points to adjust")

// DetectionError wraps an unexpected failure inside error detection itself.
// Detection never silently swallows its own errors.
type DetectionError struct {
	Component string
	Err       error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("error detection failed in component %q: %v", e.Component, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// NoFallbackError reports an exhausted backward search.
type NoFallbackError struct {
	Product      market.Product
	TargetDate   time.Time
	DaysSearched int
}

func (e *NoFallbackError) Error() string {
	return fmt.Sprintf("no fallback available for %s on %s after searching %d days back",
		e.Product, e.TargetDate.Format("2006-01-02"), e.DaysSearched)
}

// RetrievalError wraps an unexpected failure while loading or adjusting a
// located candidate.
type RetrievalError struct {
	Product    market.Product
	TargetDate time.Time
	Err        error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("fallback retrieval failed for %s on %s: %v",
		e.Product, e.TargetDate.Format("2006-01-02"), e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// AdjustmentError reports a timestamp adjustment failure with full context.
type AdjustmentError struct {
	Product    market.Product
	SourceDate time.Time
	TargetDate time.Time
	Rows       int
	Err        error
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("timestamp adjustment failed for %s (%s -> %s, %d rows): %v",
		e.Product, e.SourceDate.Format("2006-01-02"),
		e.TargetDate.Format("2006-01-02"), e.Rows, e.Err)
}

func (e *AdjustmentError) Unwrap() error { return e.Err }

// EventLogError reports a failure writing a fallback activation event. It
// must never mask the error that triggered the fallback.
type EventLogError struct {
	Path string
	Err  error
}

func (e *EventLogError) Error() string {
	return fmt.Sprintf("fallback event log write failed for %s: %v", e.Path, e.Err)
}

func (e *EventLogError) Unwrap() error { return e.Err }

// ActivationError is the single failure type the coordinator surfaces: one
// level up, a caller handles this alone to know fallback could not be
// provided.
type ActivationError struct {
	Component  string
	Product    market.Product
	TargetDate time.Time
	Err        error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("fallback activation failed for %s on %s (component %q): %v",
		e.Product, e.TargetDate.Format("2006-01-02"), e.Component, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }
