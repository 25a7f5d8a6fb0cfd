package market

import (
	"sync"
	"time"
)

// Row is a single forecast horizon hour.
//
// Timestamp is the hour being forecast, in Central market time. Samples hold
// the probabilistic ensemble around PointForecast; the sample count is fixed
// per deployment. The three storage fields are zero until the table passes
// through the storage layer's metadata stamp.
type Row struct {
	Timestamp           time.Time
	Product             Product
	PointForecast       float64
	Samples             []float64
	GenerationTimestamp time.Time
	IsFallback          bool

	StorageTimestamp time.Time
	StorageVersion   string
	SchemaVersion    string
}

// Table is an ordered forecast table, one Row per horizon hour.
// Transforms produce copies; a Table is never mutated in place.
type Table struct {
	Rows []Row
}

// Copy returns a deep copy of the table, including sample slices.
func (t *Table) Copy() *Table {
	cp := &Table{Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		cp.Rows[i] = r
		if r.Samples != nil {
			cp.Rows[i].Samples = make([]float64, len(r.Samples))
			copy(cp.Rows[i].Samples, r.Samples)
		}
	}
	return cp
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// HorizonHours returns the number of hourly points the table covers.
func (t *Table) HorizonHours() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// SchemaVersion returns the stored schema version label, or "" when the
// table has never been stamped.
func (t *Table) SchemaVersion() string {
	if t.Empty() {
		return ""
	}
	return t.Rows[0].SchemaVersion
}

var (
	centralOnce sync.Once
	centralLoc  *time.Location
)

// CentralTime returns the Central market time zone. Forecast timestamps are
// semantically fixed to this zone. Falls back to a fixed CST offset when the
// zone database is unavailable.
func CentralTime() *time.Location {
	centralOnce.Do(func() {
		loc, err := time.LoadLocation("America/Chicago")
		if err != nil {
			loc = time.FixedZone("CST", -6*60*60)
		}
		centralLoc = loc
	})
	return centralLoc
}
