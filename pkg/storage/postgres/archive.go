package postgres

import (
	"context"
	"time"

	"powercast/pkg/storage"

	"gorm.io/gorm/clause"
)

// ArchiveForecast upserts the record for (timestamp, product). A re-save of
// the same forecast date replaces the previous archive row, matching the
// index's upsert semantics.
func (p *PostgresClient) ArchiveForecast(ctx context.Context, entry storage.IndexEntry, horizonHours int) error {
	record := &ForecastRecord{
		Timestamp:           entry.Timestamp,
		Product:             string(entry.Product),
		FilePath:            entry.FilePath,
		GenerationTimestamp: entry.GenerationTimestamp,
		IsFallback:          entry.IsFallback,
		HorizonHours:        horizonHours,
	}

	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "timestamp"},
			{Name: "product"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_path", "generation_timestamp", "is_fallback", "horizon_hours",
		}),
	}).Create(record).Error
}

// GetRecord returns the archived record for (timestamp, product).
func (p *PostgresClient) GetRecord(ctx context.Context, product string, timestamp time.Time) (*ForecastRecord, error) {
	var record ForecastRecord
	err := p.DB.WithContext(ctx).
		Where("product = ? AND timestamp = ?", product, timestamp).
		First(&record).Error

	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteBefore removes archive rows for forecast dates before cutoff.
func (p *PostgresClient) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	return p.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&ForecastRecord{}).Error
}
