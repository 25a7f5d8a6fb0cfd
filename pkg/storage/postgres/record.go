package postgres

import "time"

// ForecastRecord is the archived summary of one stored forecast table.
type ForecastRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Timestamp time.Time `gorm:"not null;index:idx_forecast_timestamp;index:idx_timestamp_product,unique"`
	Product   string    `gorm:"type:varchar(16);not null;index:idx_timestamp_product,unique"`

	FilePath            string    `gorm:"type:text;not null"`
	GenerationTimestamp time.Time `gorm:"not null;index:idx_forecast_generation"`
	IsFallback          bool      `gorm:"not null"`
	HorizonHours        int       `gorm:"not null"`

	ArchivedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (ForecastRecord) TableName() string {
	return "forecast_record"
}
