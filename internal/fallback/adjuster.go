package fallback

import (
	"fmt"
	"time"

	"powercast/pkg/market"

	"go.uber.org/zap"
)

// Adjuster re-anchors a retrieved forecast onto a new target date.
type Adjuster struct {
	logger *zap.Logger
}

func NewAdjuster(logger *zap.Logger) *Adjuster {
	return &Adjuster{logger: logger}
}

// Adjust shifts every timestamp in the table by the full delta between
// sourceDate and targetDate (sub-day deltas shift too), marks every row as a
// fallback, and stamps a fresh generation time marking when the substitution
// was made. The input table is never mutated.
//
// A source date after the target date produces a negative shift; this is
// warned about and allowed.
func (a *Adjuster) Adjust(t *market.Table, product market.Product,
	sourceDate, targetDate time.Time) (*market.Table, error) {

	if err := a.validate(t, product, sourceDate, targetDate); err != nil {
		rows := 0
		if t != nil {
			rows = len(t.Rows)
		}
		return nil, &AdjustmentError{
			Product:    product,
			SourceDate: sourceDate,
			TargetDate: targetDate,
			Rows:       rows,
			Err:        err,
		}
	}

	if sourceDate.After(targetDate) {
		a.logger.Warn("adjusting timestamps backward",
			zap.String("product", string(product)),
			zap.Time("source_date", sourceDate),
			zap.Time("target_date", targetDate))
	}

	shift := targetDate.Sub(sourceDate)
	now := time.Now().In(market.CentralTime())

	cp := t.Copy()
	for i := range cp.Rows {
		cp.Rows[i].Timestamp = cp.Rows[i].Timestamp.Add(shift)
		cp.Rows[i].IsFallback = true
		cp.Rows[i].GenerationTimestamp = now
	}

	a.logger.Info("forecast timestamps adjusted",
		zap.String("product", string(product)),
		zap.Time("source_date", sourceDate),
		zap.Time("target_date", targetDate),
		zap.Int("rows", len(cp.Rows)),
		zap.Int("horizon_hours", cp.HorizonHours()))
	return cp, nil
}

func (a *Adjuster) validate(t *market.Table, product market.Product,
	sourceDate, targetDate time.Time) error {

	if t.Empty() {
		return fmt.Errorf("forecast table is nil or empty")
	}
	for i, r := range t.Rows {
		if r.Timestamp.IsZero() {
			return fmt.Errorf("row %d has no timestamp", i)
		}
	}
	if product == "" {
		return fmt.Errorf("product is required")
	}
	if sourceDate.IsZero() || targetDate.IsZero() {
		return fmt.Errorf("source and target dates are required")
	}
	return nil
}

// AdjustPoints performs the same transform on per-hour value objects by
// round-tripping through the tabular form. An empty input is a usage error,
// not an adjustment failure.
func (a *Adjuster) AdjustPoints(points []market.ForecastPoint, product market.Product,
	sourceDate, targetDate time.Time) ([]market.ForecastPoint, error) {

	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	adjusted, err := a.Adjust(market.TableFromPoints(points), product, sourceDate, targetDate)
	if err != nil {
		return nil, err
	}
	return market.PointsFromTable(adjusted), nil
}
