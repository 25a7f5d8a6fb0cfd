package fallback_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"powercast/internal/fallback"
	"powercast/pkg/market"
	"powercast/pkg/pipeline"
	"powercast/pkg/storage"

	"go.uber.org/zap"
)

type coordFixture struct {
	coordinator *fallback.Coordinator
	manager     *storage.Manager
	eventPath   string
}

func newCoordFixture(t *testing.T, persist bool) *coordFixture {
	t.Helper()
	root := t.TempDir()
	log := zap.NewNop()

	m, err := storage.NewManager(root, storage.FormatCSV, log)
	if err != nil {
		t.Fatalf("manager creation failed: %v", err)
	}

	eventPath := filepath.Join(root, "fallback_events.jsonl")
	retriever := fallback.NewRetriever(m, fallback.NewAdjuster(log), fallback.DefaultRetrieverConfig(), log)
	coordinator := fallback.NewCoordinator(
		fallback.NewDetector(log),
		retriever,
		m,
		fallback.NewEventLog(eventPath),
		persist,
		log,
	)
	return &coordFixture{coordinator: coordinator, manager: m, eventPath: eventPath}
}

// go test -v --run TestActivateDeclinedReturnsOriginal
func TestActivateDeclinedReturnsOriginal(t *testing.T) {
	fx := newCoordFixture(t, true)
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())

	// A storage write failure never activates fallback; the original error
	// comes back untouched.
	cause := &pipeline.StorageError{Path: "/x", Operation: "write", Err: errors.New("disk full")}
	table, err := fx.coordinator.Activate(cause, "storage", market.ProductDALMP, target)
	if table != nil {
		t.Error("expected no table on declined activation")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the original cause back, got %v", err)
	}
	var actErr *fallback.ActivationError
	if errors.As(err, &actErr) {
		t.Error("declined activation must not wrap the cause")
	}
}

// go test -v --run TestActivateUnknownDeclined
func TestActivateUnknownDeclined(t *testing.T) {
	fx := newCoordFixture(t, true)
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())

	cause := errors.New("something unexpected")
	_, err := fx.coordinator.Activate(cause, "scheduler", market.ProductDALMP, target)
	if !errors.Is(err, cause) {
		t.Fatalf("expected original unknown error back, got %v", err)
	}
}

// go test -v --run TestActivateServesFallback
func TestActivateServesFallback(t *testing.T) {
	fx := newCoordFixture(t, true)

	source := time.Date(2023, 1, 2, 0, 0, 0, 0, market.CentralTime())
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())
	if _, err := fx.manager.Save(forecastTable(market.ProductDALMP, source, 24), source, market.ProductDALMP, false); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cause := &pipeline.StorageError{Path: "/x/03_DALMP.parquet", Operation: "read", Err: errors.New("corrupt")}
	table, err := fx.coordinator.Activate(cause, "storage", market.ProductDALMP, target)
	if err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	if len(table.Rows) != 24 {
		t.Fatalf("expected 24 rows, got %d", len(table.Rows))
	}
	for i, row := range table.Rows {
		if !row.IsFallback {
			t.Errorf("row %d not marked fallback", i)
		}
	}

	// The substituted forecast was persisted under the target date.
	persisted, err := fx.manager.Get(target, market.ProductDALMP)
	if err != nil {
		t.Fatalf("expected persisted fallback, got %v", err)
	}
	if !persisted.Rows[0].Timestamp.Equal(table.Rows[0].Timestamp) {
		t.Error("persisted table differs from served table")
	}

	// And the activation was recorded.
	data, err := os.ReadFile(fx.eventPath)
	if err != nil {
		t.Fatalf("expected event log written: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"product":"DALMP"`) {
		t.Errorf("event missing product: %s", line)
	}
	if !strings.Contains(line, `"fallback_age_days":1`) {
		t.Errorf("event missing age: %s", line)
	}
}

// go test -v --run TestActivateWithoutPersist
func TestActivateWithoutPersist(t *testing.T) {
	fx := newCoordFixture(t, false)

	source := time.Date(2023, 1, 2, 0, 0, 0, 0, market.CentralTime())
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())
	if _, err := fx.manager.Save(forecastTable(market.ProductRTLMP, source, 24), source, market.ProductRTLMP, false); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cause := &pipeline.ModelError{Product: "RTLMP", Hour: target, Err: errors.New("solver diverged")}
	if _, err := fx.coordinator.Activate(cause, "forecaster", market.ProductRTLMP, target); err != nil {
		t.Fatalf("activation failed: %v", err)
	}

	// Nothing written back under the target date.
	if _, err := fx.manager.Get(target, market.ProductRTLMP); err == nil {
		t.Error("expected no persisted forecast without persist")
	}
}

// go test -v --run TestActivateNoCandidates
func TestActivateNoCandidates(t *testing.T) {
	fx := newCoordFixture(t, true)
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())

	cause := &pipeline.DataSourceError{Source: "ercot_api", Err: errors.New("timeout")}
	_, err := fx.coordinator.Activate(cause, "ingestion", market.ProductDALMP, target)

	// One exception type for the caller, with the search outcome inside.
	var actErr *fallback.ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
	var noFallback *fallback.NoFallbackError
	if !errors.As(err, &noFallback) {
		t.Errorf("expected NoFallbackError inside, got %v", actErr.Err)
	}
	if actErr.Component != "ingestion" || actErr.Product != market.ProductDALMP {
		t.Errorf("expected context on activation error, got %+v", actErr)
	}
	msg := err.Error()
	if !strings.Contains(msg, "DALMP") || !strings.Contains(msg, "2023-01-03") || !strings.Contains(msg, "ingestion") {
		t.Errorf("expected product/date/component in message, got %q", msg)
	}
}

// go test -v --run TestActivateNilCause
func TestActivateNilCause(t *testing.T) {
	fx := newCoordFixture(t, true)
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())

	_, err := fx.coordinator.Activate(nil, "forecaster", market.ProductDALMP, target)
	var actErr *fallback.ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
	var detErr *fallback.DetectionError
	if !errors.As(err, &detErr) {
		t.Errorf("expected DetectionError inside, got %v", actErr.Err)
	}
}

// go test -v --run TestEventLogAppends
func TestEventLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log := fallback.NewEventLog(path)

	for i := 0; i < 3; i++ {
		err := log.Record(fallback.Event{
			OccurredAt: time.Now(),
			Component:  "forecaster",
			Product:    "DALMP",
			AgeDays:    i + 1,
		})
		if err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("expected 3 event lines, got %d", len(lines))
	}
}

// go test -v --run TestActivateSurfacesEventLogFailure
func TestActivateSurfacesEventLogFailure(t *testing.T) {
	root := t.TempDir()
	log := zap.NewNop()
	m, err := storage.NewManager(root, storage.FormatCSV, log)
	if err != nil {
		t.Fatalf("manager creation failed: %v", err)
	}

	source := time.Date(2023, 1, 2, 0, 0, 0, 0, market.CentralTime())
	target := time.Date(2023, 1, 3, 0, 0, 0, 0, market.CentralTime())
	if _, err := m.Save(forecastTable(market.ProductDALMP, source, 24), source, market.ProductDALMP, false); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Event log pointed at a directory: every record attempt fails.
	retriever := fallback.NewRetriever(m, fallback.NewAdjuster(log), fallback.DefaultRetrieverConfig(), log)
	coordinator := fallback.NewCoordinator(
		fallback.NewDetector(log), retriever, m, fallback.NewEventLog(root), false, log)

	cause := &pipeline.DataSourceError{Source: "ercot_api", Err: errors.New("timeout")}
	table, err := coordinator.Activate(cause, "ingestion", market.ProductDALMP, target)
	if table != nil {
		t.Error("expected no table when the activation could not be recorded")
	}
	// The distinct logging failure surfaces; it is not the original cause.
	var actErr *fallback.ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
	var logErr *fallback.EventLogError
	if !errors.As(err, &logErr) {
		t.Fatalf("expected EventLogError inside, got %v", actErr.Err)
	}
	if errors.Is(err, cause) {
		t.Error("logging failure must replace, not wrap, the handled cause")
	}
}

// go test -v --run TestEventLogFailureType
func TestEventLogFailureType(t *testing.T) {
	// Point at a directory so the open fails.
	dir := t.TempDir()
	log := fallback.NewEventLog(dir)

	err := log.Record(fallback.Event{Component: "x"})
	var logErr *fallback.EventLogError
	if !errors.As(err, &logErr) {
		t.Fatalf("expected EventLogError, got %v", err)
	}
}
