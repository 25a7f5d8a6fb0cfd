package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"powercast/pkg/market"
)

const (
	// CurrentSchemaVersion labels the structural contract tables are written
	// against today.
	CurrentSchemaVersion = "2.1"

	// StorageVersion is the build constant stamped on every stored table.
	StorageVersion = "1.4.0"

	// maxIntegrityIssues caps the issue list reported by CheckIntegrity.
	maxIntegrityIssues = 5

	// Soft consistency bounds: point_forecast must sit within
	// [pointLowerFactor*min(samples), pointUpperFactor*max(samples)].
	pointLowerFactor = 0.9
	pointUpperFactor = 1.1
)

// ValidateSchema checks a table against the required-column schema before
// write. It does not mutate the table. Storage metadata fields are exempt;
// those are stamped after validation.
func ValidateSchema(t *market.Table) (bool, map[string]string) {
	errs := make(map[string]string)

	if t.Empty() {
		errs["table"] = "table is nil or empty"
		return false, errs
	}

	for i, r := range t.Rows {
		if _, seen := errs["timestamp"]; !seen && r.Timestamp.IsZero() {
			errs["timestamp"] = fmt.Sprintf("row %d has no timestamp", i)
		}
		if _, seen := errs["product"]; !seen && !r.Product.IsValid() {
			errs["product"] = fmt.Sprintf("row %d has invalid product %q", i, r.Product)
		}
		if _, seen := errs["generation_timestamp"]; !seen && r.GenerationTimestamp.IsZero() {
			errs["generation_timestamp"] = fmt.Sprintf("row %d has no generation timestamp", i)
		}
	}

	return len(errs) == 0, errs
}

// StampMetadata returns a copy of the table with storage metadata applied to
// every row: the current time, the build storage version, and the current
// schema version. The input table is not mutated.
func StampMetadata(t *market.Table) *market.Table {
	now := time.Now().In(market.CentralTime())
	cp := t.Copy()
	for i := range cp.Rows {
		cp.Rows[i].StorageTimestamp = now
		cp.Rows[i].StorageVersion = StorageVersion
		cp.Rows[i].SchemaVersion = CurrentSchemaVersion
	}
	return cp
}

// IssueKind classifies an integrity finding: structural findings make a
// table unusable, consistency findings are soft.
type IssueKind string

const (
	IssueStructural  IssueKind = "structural"
	IssueConsistency IssueKind = "data_consistency"
	IssueTruncated   IssueKind = "truncated"
)

// Issue is one integrity finding.
type Issue struct {
	Kind    IssueKind
	Message string
}

// IssueMessages flattens findings for error text and log fields.
func IssueMessages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Message
	}
	return out
}

// HasStructural reports whether any finding is structural.
func HasStructural(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Kind == IssueStructural {
			return true
		}
	}
	return false
}

// CheckIntegrity re-checks a loaded table: metadata timestamps must be real
// times, and when sample columns are present the point forecast must fall
// within the soft consistency bounds for every row. Issues are reported with
// their kind, not fatal to the caller's read path unless it chooses
// otherwise; the list is capped at maxIntegrityIssues with a truncation
// marker.
func CheckIntegrity(t *market.Table) (bool, []Issue) {
	var issues []Issue
	truncated := false

	add := func(kind IssueKind, msg string) {
		if len(issues) >= maxIntegrityIssues {
			truncated = true
			return
		}
		issues = append(issues, Issue{Kind: kind, Message: msg})
	}

	if t.Empty() {
		add(IssueStructural, "table is nil or empty")
		return false, issues
	}

	for i, r := range t.Rows {
		if r.Timestamp.IsZero() {
			add(IssueStructural, fmt.Sprintf("row %d: timestamp is not a valid datetime", i))
		}
		if r.GenerationTimestamp.IsZero() {
			add(IssueStructural, fmt.Sprintf("row %d: generation_timestamp is not a valid datetime", i))
		}
		if r.StorageTimestamp.IsZero() {
			add(IssueStructural, fmt.Sprintf("row %d: storage_timestamp is not a valid datetime", i))
		}
		if len(r.Samples) > 0 {
			lo, hi := sampleBounds(r.Samples)
			if r.PointForecast < pointLowerFactor*lo || r.PointForecast > pointUpperFactor*hi {
				add(IssueConsistency, fmt.Sprintf(
					"row %d: data_consistency_issues: point_forecast %.4f outside [%.4f, %.4f]",
					i, r.PointForecast, pointLowerFactor*lo, pointUpperFactor*hi))
			}
		}
	}

	if truncated {
		issues = append(issues, Issue{
			Kind:    IssueTruncated,
			Message: fmt.Sprintf("... additional issues truncated (showing first %d)", maxIntegrityIssues),
		})
	}
	return len(issues) == 0, issues
}

func sampleBounds(samples []float64) (lo, hi float64) {
	lo, hi = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// schemaMigrations holds the ordered transformations applied when upgrading
// from an older major version. Keyed by the source major version.
var schemaMigrations = map[int][]func(*market.Table){
	// 1.x tables predate the fallback flag and did not require a generation
	// timestamp; backfill both before relabeling.
	1: {
		func(t *market.Table) {
			for i := range t.Rows {
				t.Rows[i].IsFallback = false
			}
		},
		func(t *market.Table) {
			for i := range t.Rows {
				if t.Rows[i].GenerationTimestamp.IsZero() {
					t.Rows[i].GenerationTimestamp = t.Rows[i].StorageTimestamp
				}
			}
		},
	},
}

// UpgradeSchema brings a loaded table up to the current schema version.
// Same version: no-op. Same major version: only the label is bumped. Older
// major with a registered migration chain: ordered transforms then relabel.
// Unknown or unparseable versions are incompatible.
func UpgradeSchema(t *market.Table) (*market.Table, error) {
	from := t.SchemaVersion()
	if from == CurrentSchemaVersion {
		return t, nil
	}

	fromMajor, err := majorVersion(from)
	if err != nil {
		return nil, &SchemaUpgradeError{
			FromVersion: from,
			ToVersion:   CurrentSchemaVersion,
			Reason:      err.Error(),
		}
	}
	curMajor, _ := majorVersion(CurrentSchemaVersion)

	cp := t.Copy()
	if fromMajor != curMajor {
		migrations, ok := schemaMigrations[fromMajor]
		if !ok {
			return nil, &SchemaUpgradeError{
				FromVersion: from,
				ToVersion:   CurrentSchemaVersion,
				Reason:      fmt.Sprintf("no migration path from major version %d", fromMajor),
			}
		}
		for _, migrate := range migrations {
			migrate(cp)
		}
	}

	for i := range cp.Rows {
		cp.Rows[i].SchemaVersion = CurrentSchemaVersion
	}
	return cp, nil
}

func majorVersion(v string) (int, error) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return 0, fmt.Errorf("unparseable schema version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("unparseable schema version %q", v)
	}
	return major, nil
}
