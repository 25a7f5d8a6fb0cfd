package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"powercast/pkg/market"

	"go.uber.org/zap"
)

// IndexEntry is one row of the forecast index: a stored forecast keyed by
// (timestamp, product).
type IndexEntry struct {
	Timestamp           time.Time
	Product             market.Product
	FilePath            string
	GenerationTimestamp time.Time
	IsFallback          bool
}

// Index is the tabular manifest over the storage tree. It enables range and
// product queries without scanning the filesystem and maintains the
// per-product latest pointers. Discipline is load, mutate in memory, save;
// there is no locking (see the storage manager for the single-writer
// assumption).
type Index struct {
	resolver *PathResolver
	format   Format
	logger   *zap.Logger
}

// NewIndex creates an index over the resolver's root. format selects the
// extension used when resolving latest pointers.
func NewIndex(resolver *PathResolver, format Format, logger *zap.Logger) *Index {
	return &Index{resolver: resolver, format: format, logger: logger}
}

var indexHeader = []string{"timestamp", "product", "file_path", "generation_timestamp", "is_fallback"}

// Initialize creates an empty index file iff one is absent. Idempotent;
// reports whether a new file was created.
func (ix *Index) Initialize() (bool, error) {
	path := ix.resolver.IndexPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, &IndexError{Op: "initialize", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, &IndexError{Op: "initialize", Err: err}
	}
	if err := ix.Save(nil); err != nil {
		return false, err
	}
	ix.logger.Info("created empty forecast index", zap.String("path", path))
	return true, nil
}

// Load reads the full index from disk.
func (ix *Index) Load() ([]IndexEntry, error) {
	path := ix.resolver.IndexPath()
	f, err := os.Open(path)
	if err != nil {
		return nil, &IndexError{Op: "load", Err: err}
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, &IndexError{Op: "load", Err: err}
	}
	if len(records) == 0 {
		return nil, nil
	}

	entries := make([]IndexEntry, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(indexHeader) {
			return nil, &IndexError{Op: "load", Err: fmt.Errorf("malformed index row with %d columns", len(rec))}
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, &IndexError{Op: "load", Err: fmt.Errorf("bad index timestamp %q: %w", rec[0], err)}
		}
		gen, err := time.Parse(time.RFC3339Nano, rec[3])
		if err != nil {
			return nil, &IndexError{Op: "load", Err: fmt.Errorf("bad generation timestamp %q: %w", rec[3], err)}
		}
		entries = append(entries, IndexEntry{
			Timestamp:           ts.In(market.CentralTime()),
			Product:             market.Product(rec[1]),
			FilePath:            rec[2],
			GenerationTimestamp: gen.In(market.CentralTime()),
			IsFallback:          rec[4] == "true",
		})
	}
	return entries, nil
}

// Save replaces the index file with the given entries. A timestamped backup
// of the previous index is taken first; backup failure is logged, not fatal.
func (ix *Index) Save(entries []IndexEntry) error {
	path := ix.resolver.IndexPath()

	if prev, err := os.ReadFile(path); err == nil {
		backup := fmt.Sprintf("%s.bak.%s", path, time.Now().Format("20060102T150405"))
		if err := os.WriteFile(backup, prev, 0o644); err != nil {
			ix.logger.Warn("index backup failed", zap.String("path", backup), zap.Error(err))
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &IndexError{Op: "save", Err: err}
	}

	w := csv.NewWriter(f)
	if err := w.Write(indexHeader); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IndexError{Op: "save", Err: err}
	}
	for _, e := range entries {
		rec := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Product),
			e.FilePath,
			e.GenerationTimestamp.Format(time.RFC3339Nano),
			strconv.FormatBool(e.IsFallback),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return &IndexError{Op: "save", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IndexError{Op: "save", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IndexError{Op: "save", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IndexError{Op: "save", Err: err}
	}
	return nil
}

// Add upserts an entry keyed on (timestamp, product): update in place when
// present, append otherwise.
func (ix *Index) Add(filePath string, timestamp time.Time, product market.Product,
	generation time.Time, isFallback bool) error {

	entries, err := ix.Load()
	if err != nil {
		return err
	}

	entry := IndexEntry{
		Timestamp:           timestamp,
		Product:             product,
		FilePath:            filePath,
		GenerationTimestamp: generation,
		IsFallback:          isFallback,
	}

	updated := false
	for i, e := range entries {
		if e.Timestamp.Equal(timestamp) && e.Product == product {
			entries[i] = entry
			updated = true
			break
		}
	}
	if !updated {
		entries = append(entries, entry)
	}
	return ix.Save(entries)
}

// Remove deletes the entry for (timestamp, product). Returns false when no
// entry matched.
func (ix *Index) Remove(timestamp time.Time, product market.Product) (bool, error) {
	entries, err := ix.Load()
	if err != nil {
		return false, err
	}

	kept := entries[:0]
	removed := false
	for _, e := range entries {
		if e.Timestamp.Equal(timestamp) && e.Product == product {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false, nil
	}
	return true, ix.Save(kept)
}

// QueryByDate returns entries with timestamps in [start, end] inclusive,
// optionally filtered to one product (empty product means all).
func (ix *Index) QueryByDate(start, end time.Time, product market.Product) ([]IndexEntry, error) {
	if start.IsZero() || end.IsZero() {
		return nil, &IndexError{Op: "query", Err: fmt.Errorf("start and end dates are required")}
	}

	entries, err := ix.Load()
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	for _, e := range entries {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		if product != "" && e.Product != product {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Lookup returns the entry for (timestamp, product), or false if absent.
func (ix *Index) Lookup(timestamp time.Time, product market.Product) (IndexEntry, bool, error) {
	entries, err := ix.Load()
	if err != nil {
		return IndexEntry{}, false, err
	}
	for _, e := range entries {
		if e.Timestamp.Equal(timestamp) && e.Product == product {
			return e, true, nil
		}
	}
	return IndexEntry{}, false, nil
}

// UpdateLatestLinks repoints each product's latest pointer at the indexed
// file with the maximum generation timestamp. Latest means most recently
// generated, not most recently dated. A product left without entries has any
// stale pointer removed.
func (ix *Index) UpdateLatestLinks() error {
	entries, err := ix.Load()
	if err != nil {
		return err
	}

	newest := make(map[market.Product]IndexEntry)
	for _, e := range entries {
		cur, ok := newest[e.Product]
		if !ok || e.GenerationTimestamp.After(cur.GenerationTimestamp) {
			newest[e.Product] = e
		}
	}

	for _, product := range market.Products() {
		linkPath, err := ix.resolver.LatestPathFor(product, ix.format)
		if err != nil {
			return &IndexError{Op: "update_latest", Err: err}
		}
		e, ok := newest[product]
		if !ok {
			if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
				return &IndexError{Op: "update_latest", Err: err}
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
			return &IndexError{Op: "update_latest", Err: err}
		}
		target, err := filepath.Rel(filepath.Dir(linkPath), e.FilePath)
		if err != nil {
			target = e.FilePath
		}
		// Symlinks cannot be overwritten in place; remove then recreate.
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return &IndexError{Op: "update_latest", Err: err}
		}
		if err := os.Symlink(target, linkPath); err != nil {
			return &IndexError{Op: "update_latest", Err: err}
		}
		ix.logger.Debug("latest pointer updated",
			zap.String("product", string(product)),
			zap.String("target", e.FilePath))
	}
	return nil
}

// CleanResult reports the outcome of a Clean pass.
type CleanResult struct {
	Total     int
	Removed   int
	Remaining int
}

// Clean drops entries whose backing file no longer exists on disk and
// refreshes latest links when anything was removed.
func (ix *Index) Clean() (CleanResult, error) {
	entries, err := ix.Load()
	if err != nil {
		return CleanResult{}, err
	}

	res := CleanResult{Total: len(entries)}
	kept := entries[:0]
	for _, e := range entries {
		if _, err := os.Stat(e.FilePath); os.IsNotExist(err) {
			res.Removed++
			ix.logger.Warn("dropping stale index entry",
				zap.String("file", e.FilePath),
				zap.String("product", string(e.Product)))
			continue
		}
		kept = append(kept, e)
	}
	res.Remaining = len(kept)

	if res.Removed == 0 {
		return res, nil
	}
	if err := ix.Save(kept); err != nil {
		return res, err
	}
	return res, ix.UpdateLatestLinks()
}

// RebuildResult reports the outcome of a Rebuild pass.
type RebuildResult struct {
	Indexed int
	Skipped int
}

// forecastFileName matches DD_PRODUCT.ext under a year/month directory.
var forecastFileName = regexp.MustCompile(`^(\d{2})_([A-Z]+)\.(parquet|csv)$`)

// Rebuild reconstructs the index wholesale by walking the year/month tree.
// The filename is authoritative for the forecast date; a file whose contents
// disagree is re-keyed under the filename's date. Generation timestamp and
// fallback flag are recovered from file contents, falling back to the file
// modification time and false. Files with unparseable names, bad dates, or
// invalid products are counted and skipped, never fatal.
func (ix *Index) Rebuild() (RebuildResult, error) {
	var res RebuildResult
	var entries []IndexEntry

	yearDirs, err := os.ReadDir(ix.resolver.Root)
	if err != nil {
		return res, &IndexError{Op: "rebuild", Err: err}
	}

	for _, yd := range yearDirs {
		if !yd.IsDir() {
			continue
		}
		year, err := strconv.Atoi(yd.Name())
		if err != nil || len(yd.Name()) != 4 {
			continue // latest/, backups, anything non-dated
		}
		monthDirs, err := os.ReadDir(filepath.Join(ix.resolver.Root, yd.Name()))
		if err != nil {
			return res, &IndexError{Op: "rebuild", Err: err}
		}
		for _, md := range monthDirs {
			if !md.IsDir() {
				continue
			}
			month, err := strconv.Atoi(md.Name())
			if err != nil || month < 1 || month > 12 {
				res.Skipped++
				continue
			}
			dir := filepath.Join(ix.resolver.Root, yd.Name(), md.Name())
			files, err := os.ReadDir(dir)
			if err != nil {
				return res, &IndexError{Op: "rebuild", Err: err}
			}
			for _, fi := range files {
				if fi.IsDir() {
					continue
				}
				entry, ok := ix.entryFromFile(dir, fi.Name(), year, month)
				if !ok {
					res.Skipped++
					continue
				}
				entries = append(entries, entry)
				res.Indexed++
			}
		}
	}

	if err := ix.Save(entries); err != nil {
		return res, err
	}
	ix.logger.Info("forecast index rebuilt",
		zap.Int("indexed", res.Indexed),
		zap.Int("skipped", res.Skipped))
	return res, ix.UpdateLatestLinks()
}

func (ix *Index) entryFromFile(dir, name string, year, month int) (IndexEntry, bool) {
	m := forecastFileName.FindStringSubmatch(name)
	if m == nil {
		return IndexEntry{}, false
	}
	day, err := strconv.Atoi(m[1])
	if err != nil {
		return IndexEntry{}, false
	}
	product := market.Product(m[2])
	if !product.IsValid() {
		return IndexEntry{}, false
	}
	ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, market.CentralTime())
	if ts.Day() != day || int(ts.Month()) != month {
		return IndexEntry{}, false // e.g. 31_DALMP.parquet under 02/
	}

	path := filepath.Join(dir, name)
	entry := IndexEntry{
		Timestamp: ts,
		Product:   product,
		FilePath:  path,
	}

	if t, err := ReadTable(path); err == nil && !t.Empty() {
		entry.GenerationTimestamp = t.Rows[0].GenerationTimestamp
		entry.IsFallback = t.Rows[0].IsFallback
	} else if err != nil {
		ix.logger.Warn("could not read forecast during rebuild, using file metadata",
			zap.String("path", path), zap.Error(err))
	}
	if entry.GenerationTimestamp.IsZero() {
		if info, err := os.Stat(path); err == nil {
			entry.GenerationTimestamp = info.ModTime().In(market.CentralTime())
		}
	}
	return entry, true
}

// Stats summarizes the index. Zero values stand in for "N/A" on an empty
// index; nothing here errors on emptiness.
type Stats struct {
	TotalEntries     int
	ByProduct        map[market.Product]int
	FallbackCount    int
	NonFallbackCount int
	MinTimestamp     time.Time
	MaxTimestamp     time.Time
	NewestGeneration time.Time
}

// Statistics computes summary counts over the index.
func (ix *Index) Statistics() (Stats, error) {
	entries, err := ix.Load()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalEntries: len(entries),
		ByProduct:    make(map[market.Product]int),
	}
	for _, e := range entries {
		stats.ByProduct[e.Product]++
		if e.IsFallback {
			stats.FallbackCount++
		} else {
			stats.NonFallbackCount++
		}
		if stats.MinTimestamp.IsZero() || e.Timestamp.Before(stats.MinTimestamp) {
			stats.MinTimestamp = e.Timestamp
		}
		if e.Timestamp.After(stats.MaxTimestamp) {
			stats.MaxTimestamp = e.Timestamp
		}
		if e.GenerationTimestamp.After(stats.NewestGeneration) {
			stats.NewestGeneration = e.GenerationTimestamp
		}
	}
	return stats, nil
}
