package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"powercast/pkg/market"
	"powercast/pkg/storage"

	"go.uber.org/zap"
)

func newTestIndex(t *testing.T) (*storage.Index, *storage.PathResolver) {
	t.Helper()
	resolver := &storage.PathResolver{Root: t.TempDir()}
	ix := storage.NewIndex(resolver, storage.FormatCSV, zap.NewNop())
	if _, err := ix.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return ix, resolver
}

func centralDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, market.CentralTime())
}

// writeForecastFile stores a minimal valid forecast at the resolver path and
// returns it.
func writeForecastFile(t *testing.T, resolver *storage.PathResolver,
	date time.Time, product market.Product, generation time.Time, isFallback bool) string {

	t.Helper()
	table := storage.StampMetadata(validTable(product, date, 24))
	for i := range table.Rows {
		table.Rows[i].GenerationTimestamp = generation
		table.Rows[i].IsFallback = isFallback
	}
	path, err := resolver.PathFor(date, product, storage.FormatCSV)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := storage.WriteTable(path, table); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

// go test -v --run TestIndexInitializeIdempotent
func TestIndexInitializeIdempotent(t *testing.T) {
	resolver := &storage.PathResolver{Root: t.TempDir()}
	ix := storage.NewIndex(resolver, storage.FormatCSV, zap.NewNop())

	created, err := ix.Initialize()
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if !created {
		t.Error("expected first initialize to create the index")
	}

	created, err = ix.Initialize()
	if err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	if created {
		t.Error("expected second initialize to be a no-op")
	}
}

// go test -v --run TestIndexUpsert
func TestIndexUpsert(t *testing.T) {
	ix, _ := newTestIndex(t)
	date := centralDate(2023, 1, 1)
	gen := date.Add(-2 * time.Hour)

	if err := ix.Add("/a/01_DALMP.csv", date, market.ProductDALMP, gen, false); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := ix.Add("/b/01_DALMP.csv", date, market.ProductDALMP, gen.Add(time.Hour), true); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	entries, err := ix.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry after upsert, got %d", len(entries))
	}
	if entries[0].FilePath != "/b/01_DALMP.csv" {
		t.Errorf("expected second path to win, got %s", entries[0].FilePath)
	}
	if !entries[0].IsFallback {
		t.Error("expected updated fallback flag")
	}
}

// go test -v --run TestIndexRemove
func TestIndexRemove(t *testing.T) {
	ix, _ := newTestIndex(t)
	date := centralDate(2023, 1, 1)

	removed, err := ix.Remove(date, market.ProductDALMP)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed {
		t.Error("expected false removing a missing entry")
	}

	if err := ix.Add("/a/01_DALMP.csv", date, market.ProductDALMP, date, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	removed, err = ix.Remove(date, market.ProductDALMP)
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !removed {
		t.Error("expected true removing an existing entry")
	}
}

// go test -v --run TestIndexQueryByDate
func TestIndexQueryByDate(t *testing.T) {
	ix, _ := newTestIndex(t)
	for day := 1; day <= 5; day++ {
		date := centralDate(2023, 2, day)
		if err := ix.Add("/a/x.csv", date, market.ProductDALMP, date, false); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := ix.Add("/a/y.csv", centralDate(2023, 2, 3), market.ProductRTLMP, centralDate(2023, 2, 3), false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Inclusive range, all products.
	entries, err := ix.QueryByDate(centralDate(2023, 2, 2), centralDate(2023, 2, 4), "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("expected 4 entries in range, got %d", len(entries))
	}

	// Product filter.
	entries, err = ix.QueryByDate(centralDate(2023, 2, 1), centralDate(2023, 2, 28), market.ProductRTLMP)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 RTLMP entry, got %d", len(entries))
	}

	// Missing bounds rejected.
	if _, err := ix.QueryByDate(time.Time{}, centralDate(2023, 2, 28), ""); err == nil {
		t.Error("expected error for zero start date")
	}
}

// go test -v --run TestIndexLatestLinksByGenerationTime
func TestIndexLatestLinksByGenerationTime(t *testing.T) {
	ix, resolver := newTestIndex(t)

	// The later date has the OLDER generation time: a retroactive regen.
	oldDate := centralDate(2023, 1, 1)
	newDate := centralDate(2023, 1, 2)
	oldPath := writeForecastFile(t, resolver, oldDate, market.ProductDALMP, centralDate(2023, 1, 5), false)
	newPath := writeForecastFile(t, resolver, newDate, market.ProductDALMP, centralDate(2023, 1, 2), false)

	if err := ix.Add(oldPath, oldDate, market.ProductDALMP, centralDate(2023, 1, 5), false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := ix.Add(newPath, newDate, market.ProductDALMP, centralDate(2023, 1, 2), false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := ix.UpdateLatestLinks(); err != nil {
		t.Fatalf("update latest failed: %v", err)
	}

	linkPath, err := resolver.LatestPathFor(market.ProductDALMP, storage.FormatCSV)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("latest pointer is not a symlink: %v", err)
	}
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(linkPath), target)
	}
	// Latest means newest generation time, not newest date.
	if filepath.Clean(resolved) != filepath.Clean(oldPath) {
		t.Errorf("expected link to %s, got %s", oldPath, resolved)
	}
}

// go test -v --run TestIndexLatestLinkRemovedWithLastEntry
func TestIndexLatestLinkRemovedWithLastEntry(t *testing.T) {
	ix, resolver := newTestIndex(t)
	date := centralDate(2023, 4, 1)
	path := writeForecastFile(t, resolver, date, market.ProductDALMP, date, false)

	if err := ix.Add(path, date, market.ProductDALMP, date, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := ix.UpdateLatestLinks(); err != nil {
		t.Fatalf("update latest failed: %v", err)
	}
	linkPath, err := resolver.LatestPathFor(market.ProductDALMP, storage.FormatCSV)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := os.Lstat(linkPath); err != nil {
		t.Fatalf("expected latest pointer after add: %v", err)
	}

	if _, err := ix.Remove(date, market.ProductDALMP); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := ix.UpdateLatestLinks(); err != nil {
		t.Fatalf("update latest failed: %v", err)
	}
	if _, err := os.Lstat(linkPath); !os.IsNotExist(err) {
		t.Errorf("expected stale latest pointer removed, got %v", err)
	}
}

// go test -v --run TestIndexClean
func TestIndexClean(t *testing.T) {
	ix, resolver := newTestIndex(t)
	date := centralDate(2023, 3, 1)
	path := writeForecastFile(t, resolver, date, market.ProductDALMP, date, false)

	if err := ix.Add(path, date, market.ProductDALMP, date, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := ix.Add("/nonexistent/02_RTLMP.csv", centralDate(2023, 3, 2), market.ProductRTLMP, date, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	res, err := ix.Clean()
	if err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if res.Total != 2 || res.Removed != 1 || res.Remaining != 1 {
		t.Errorf("unexpected clean result: %+v", res)
	}
}

// go test -v --run TestIndexRebuild
func TestIndexRebuild(t *testing.T) {
	ix, resolver := newTestIndex(t)

	d1 := centralDate(2023, 1, 1)
	d2 := centralDate(2023, 1, 2)
	writeForecastFile(t, resolver, d1, market.ProductDALMP, d1.Add(-time.Hour), false)
	writeForecastFile(t, resolver, d2, market.ProductRTLMP, d2.Add(-time.Hour), true)

	// Junk that rebuild must skip, not fail on.
	junkDir := filepath.Join(resolver.Root, "2023", "01")
	if err := os.WriteFile(filepath.Join(junkDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write junk failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(junkDir, "03_WIND.csv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write junk failed: %v", err)
	}

	res, err := ix.Rebuild()
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if res.Indexed != 2 {
		t.Errorf("expected 2 indexed, got %d", res.Indexed)
	}
	if res.Skipped < 2 {
		t.Errorf("expected at least 2 skipped, got %d", res.Skipped)
	}

	entries, err := ix.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.GenerationTimestamp.IsZero() {
			t.Errorf("entry %s has no generation timestamp", e.FilePath)
		}
		if e.Product == market.ProductRTLMP && !e.IsFallback {
			t.Error("expected RTLMP entry to keep its fallback flag")
		}
	}
}

// go test -v --run TestIndexStatisticsEmpty
func TestIndexStatisticsEmpty(t *testing.T) {
	ix, _ := newTestIndex(t)

	stats, err := ix.Statistics()
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.TotalEntries)
	}
	if !stats.MinTimestamp.IsZero() || !stats.MaxTimestamp.IsZero() {
		t.Error("expected zero min/max on empty index")
	}
}

// go test -v --run TestIndexStatistics
func TestIndexStatistics(t *testing.T) {
	ix, _ := newTestIndex(t)
	d1 := centralDate(2023, 1, 1)
	d2 := centralDate(2023, 1, 10)

	if err := ix.Add("/a.csv", d1, market.ProductDALMP, d1, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := ix.Add("/b.csv", d2, market.ProductDALMP, d2, true); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stats, err := ix.Statistics()
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}
	if stats.TotalEntries != 2 || stats.ByProduct[market.ProductDALMP] != 2 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.FallbackCount != 1 || stats.NonFallbackCount != 1 {
		t.Errorf("unexpected fallback counts: %+v", stats)
	}
	if !stats.MinTimestamp.Equal(d1) || !stats.MaxTimestamp.Equal(d2) {
		t.Errorf("unexpected min/max: %v / %v", stats.MinTimestamp, stats.MaxTimestamp)
	}
}

// go test -v --run TestIndexSaveTakesBackup
func TestIndexSaveTakesBackup(t *testing.T) {
	ix, resolver := newTestIndex(t)
	date := centralDate(2023, 1, 1)

	if err := ix.Add("/a.csv", date, market.ProductDALMP, date, false); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	matches, err := filepath.Glob(resolver.IndexPath() + ".bak.*")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected a timestamped backup of the previous index")
	}
}

// go test -v --run TestIndexSaveCleansTempOnFailure
func TestIndexSaveCleansTempOnFailure(t *testing.T) {
	resolver := &storage.PathResolver{Root: t.TempDir()}
	ix := storage.NewIndex(resolver, storage.FormatCSV, zap.NewNop())

	// A directory where the index file belongs makes the final rename fail.
	if err := os.MkdirAll(resolver.IndexPath(), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	if err := ix.Save(nil); err == nil {
		t.Fatal("expected save failure")
	}
	if _, err := os.Lstat(resolver.IndexPath() + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected temp file removed after failed save, got %v", err)
	}
}
