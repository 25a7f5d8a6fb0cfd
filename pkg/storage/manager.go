package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"powercast/pkg/market"

	"go.uber.org/zap"
)

// Archiver mirrors stored forecast summaries into an external store. Archive
// calls are best-effort; a failing archiver never fails a save.
type Archiver interface {
	ArchiveForecast(ctx context.Context, entry IndexEntry, horizonHours int) error
	DeleteBefore(ctx context.Context, cutoff time.Time) error
}

// Manager is the storage façade combining path resolution, the schema layer,
// and the forecast index into the save/get/list/delete/duplicate/maintain
// operations the rest of the system uses.
type Manager struct {
	resolver *PathResolver
	index    *Index
	format   Format
	logger   *zap.Logger
	archive  Archiver
}

// latestSearchDays bounds the backward scan GetLatest falls back to when the
// latest pointer is stale or missing.
const latestSearchDays = 30

// archiveTimeout bounds each archive database call.
const archiveTimeout = 2 * time.Second

// NewManager creates a storage manager rooted at root and initializes the
// index file if absent.
func NewManager(root string, format Format, logger *zap.Logger) (*Manager, error) {
	resolver := &PathResolver{Root: root}
	index := NewIndex(resolver, format, logger)
	if _, err := index.Initialize(); err != nil {
		return nil, err
	}
	return &Manager{
		resolver: resolver,
		index:    index,
		format:   format,
		logger:   logger,
	}, nil
}

// WithArchive attaches a forecast archive. Returns the manager for chaining.
func (m *Manager) WithArchive(a Archiver) *Manager {
	m.archive = a
	return m
}

// Index exposes the underlying forecast index for maintenance callers.
func (m *Manager) Index() *Index { return m.index }

// Resolver exposes the path resolver.
func (m *Manager) Resolver() *PathResolver { return m.resolver }

// dateKey normalizes a date to midnight Central, the index key granularity.
func dateKey(date time.Time) time.Time {
	d := date.In(market.CentralTime())
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, market.CentralTime())
}

// Save validates, stamps, and persists a forecast table for (date, product),
// then indexes it and refreshes latest pointers. isFallback marks the index
// entry for substituted forecasts.
func (m *Manager) Save(t *market.Table, date time.Time, product market.Product, isFallback bool) (string, error) {
	if !product.IsValid() {
		return "", &market.InvalidProductError{Product: string(product)}
	}
	if ok, fieldErrs := ValidateSchema(t); !ok {
		return "", &SchemaValidationError{FieldErrors: fieldErrs}
	}

	stamped := StampMetadata(t)

	key := dateKey(date)
	path, err := m.resolver.PathFor(key, product, m.format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &FileOperationError{Path: path, Op: "write", Err: err}
	}
	if err := WriteTable(path, stamped); err != nil {
		return "", err
	}

	generation := stamped.Rows[0].GenerationTimestamp
	if err := m.index.Add(path, key, product, generation, isFallback); err != nil {
		return "", err
	}
	if err := m.index.UpdateLatestLinks(); err != nil {
		return "", err
	}

	m.archiveEntry(IndexEntry{
		Timestamp:           key,
		Product:             product,
		FilePath:            path,
		GenerationTimestamp: generation,
		IsFallback:          isFallback,
	}, stamped.HorizonHours())

	m.logger.Info("forecast saved",
		zap.String("product", string(product)),
		zap.String("date", key.Format("2006-01-02")),
		zap.String("path", path),
		zap.Int("rows", len(stamped.Rows)),
		zap.Bool("is_fallback", isFallback))
	return path, nil
}

func (m *Manager) archiveEntry(entry IndexEntry, horizon int) {
	if m.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.archive.ArchiveForecast(ctx, entry, horizon); err != nil {
		m.logger.Warn("forecast archive insert failed",
			zap.String("product", string(entry.Product)), zap.Error(err))
	}
}

// Get loads the forecast for (date, product), integrity-checks it, and
// upgrades its schema to current. Structural integrity failures abort the
// read; numeric consistency issues are logged and the table is still
// returned.
func (m *Manager) Get(date time.Time, product market.Product) (*market.Table, error) {
	path, err := m.resolver.PathFor(dateKey(date), product, m.format)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{Product: product, Date: date, Path: path}
	}
	return m.loadChecked(path)
}

func (m *Manager) loadChecked(path string) (*market.Table, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, err
	}

	if ok, issues := CheckIntegrity(t); !ok {
		if HasStructural(issues) {
			return nil, &IntegrityError{Path: path, Issues: IssueMessages(issues)}
		}
		// Soft consistency violations are reported, never block a read.
		m.logger.Warn("forecast has data consistency issues",
			zap.String("path", path),
			zap.Strings("issues", IssueMessages(issues)))
	}

	return UpgradeSchema(t)
}

// GetLatest loads the most recently generated forecast for product via the
// latest pointer, falling back to a bounded backward date scan when the
// pointer is stale or missing.
func (m *Manager) GetLatest(product market.Product) (*market.Table, error) {
	linkPath, err := m.resolver.LatestPathFor(product, m.format)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(linkPath); err == nil {
		return m.loadChecked(linkPath)
	}

	// Stale or missing pointer: walk backward from today.
	day := dateKey(time.Now())
	for i := 0; i < latestSearchDays; i++ {
		d := day.AddDate(0, 0, -i)
		if m.Exists(d, product) {
			m.logger.Warn("latest pointer stale, resolved by backward scan",
				zap.String("product", string(product)),
				zap.String("date", d.Format("2006-01-02")))
			return m.Get(d, product)
		}
	}
	return nil, &NotFoundError{Product: product, Date: day, Path: linkPath}
}

// Exists reports whether a forecast is stored for (date, product): it must
// be indexed and its file present on disk.
func (m *Manager) Exists(date time.Time, product market.Product) bool {
	entry, ok, err := m.index.Lookup(dateKey(date), product)
	if err != nil || !ok {
		return false
	}
	_, err = os.Stat(entry.FilePath)
	return err == nil
}

// Metadata returns the candidate metadata for a stored forecast without
// loading its table. Horizon hours are unknown (zero) at this level.
func (m *Manager) Metadata(date time.Time, product market.Product) (market.Meta, bool, error) {
	entry, ok, err := m.index.Lookup(dateKey(date), product)
	if err != nil || !ok {
		return market.Meta{}, false, err
	}
	return market.Meta{
		Timestamp:           entry.Timestamp,
		Product:             entry.Product,
		GenerationTimestamp: entry.GenerationTimestamp,
		IsFallback:          entry.IsFallback,
	}, true, nil
}

// List returns index entries in the inclusive date range, optionally
// filtered by product (empty means all).
func (m *Manager) List(start, end time.Time, product market.Product) ([]IndexEntry, error) {
	return m.index.QueryByDate(dateKey(start), dateKey(end), product)
}

// Delete removes the stored forecast for (date, product) from disk and the
// index, then refreshes latest pointers.
func (m *Manager) Delete(date time.Time, product market.Product) error {
	path, err := m.resolver.PathFor(dateKey(date), product, m.format)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &NotFoundError{Product: product, Date: date, Path: path}
	}
	if err := os.Remove(path); err != nil {
		return &FileOperationError{Path: path, Op: "delete", Err: err}
	}
	if _, err := m.index.Remove(dateKey(date), product); err != nil {
		return err
	}
	return m.index.UpdateLatestLinks()
}

// Duplicate loads the forecast stored for sourceDate, shifts its timestamps
// by the day delta to targetDate, optionally marks it as a fallback, and
// saves it under targetDate. This is the persistence path for substituted
// forecasts.
func (m *Manager) Duplicate(sourceDate, targetDate time.Time, product market.Product,
	markAsFallback bool) (*market.Table, error) {

	src, err := m.Get(sourceDate, product)
	if err != nil {
		return nil, err
	}

	shift := dateKey(targetDate).Sub(dateKey(sourceDate))
	cp := src.Copy()
	for i := range cp.Rows {
		cp.Rows[i].Timestamp = cp.Rows[i].Timestamp.Add(shift)
		if markAsFallback {
			cp.Rows[i].IsFallback = true
		}
	}

	if _, err := m.Save(cp, targetDate, product, markAsFallback); err != nil {
		return nil, err
	}
	return cp, nil
}

// MaintenanceResult reports the outcome of a Maintain pass.
type MaintenanceResult struct {
	FilesRemoved int
	Clean        CleanResult
}

// Maintain deletes on-disk forecasts older than retentionDays, reconciles
// the index, and prunes the archive when one is attached.
func (m *Manager) Maintain(retentionDays int) (MaintenanceResult, error) {
	var res MaintenanceResult
	cutoff := dateKey(time.Now()).AddDate(0, 0, -retentionDays)

	entries, err := m.index.Load()
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			m.logger.Error("retention delete failed",
				zap.String("path", e.FilePath), zap.Error(err))
			continue
		}
		res.FilesRemoved++
	}

	res.Clean, err = m.index.Clean()
	if err != nil {
		return res, err
	}

	if m.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := m.archive.DeleteBefore(ctx, cutoff); err != nil {
			m.logger.Warn("archive retention delete failed", zap.Error(err))
		}
	}

	m.logger.Info("storage maintenance complete",
		zap.Int("files_removed", res.FilesRemoved),
		zap.Int("index_removed", res.Clean.Removed),
		zap.Int("index_remaining", res.Clean.Remaining))
	return res, nil
}
