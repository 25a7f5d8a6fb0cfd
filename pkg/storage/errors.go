package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"powercast/pkg/market"
)

// SchemaValidationError reports a table that failed schema validation before
// write. FieldErrors maps column name to the failure detail.
type SchemaValidationError struct {
	FieldErrors map[string]string
}

func (e *SchemaValidationError) Error() string {
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s", f, e.FieldErrors[f])
	}
	return fmt.Sprintf("schema validation failed: %s", strings.Join(parts, "; "))
}

// FileOperationError reports a filesystem read/write failure with the path
// and operation attached.
type FileOperationError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOperationError) Unwrap() error { return e.Err }

// NotFoundError reports that no stored forecast exists for a product/date.
type NotFoundError struct {
	Product market.Product
	Date    time.Time
	Path    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no forecast found for %s on %s (looked at %s)",
		e.Product, e.Date.Format("2006-01-02"), e.Path)
}

// IntegrityError reports a stored table that failed the integrity check on
// read. Issues carries the per-issue detail, capped by the checker.
type IntegrityError struct {
	Path   string
	Issues []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s",
		e.Path, strings.Join(e.Issues, "; "))
}

// IndexError reports a forecast index operation failure.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s failed: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// SchemaUpgradeError reports a stored schema version that cannot be upgraded
// to the current schema.
type SchemaUpgradeError struct {
	FromVersion string
	ToVersion   string
	Reason      string
}

func (e *SchemaUpgradeError) Error() string {
	return fmt.Sprintf("cannot upgrade schema %q to %q: %s",
		e.FromVersion, e.ToVersion, e.Reason)
}
