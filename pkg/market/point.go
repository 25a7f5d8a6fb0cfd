package market

import "time"

// ForecastPoint is a single-hour forecast value object, the per-point view of
// a table Row used by callers that consume forecasts hour by hour.
type ForecastPoint struct {
	Timestamp           time.Time
	Product             Product
	PointForecast       float64
	Samples             []float64
	GenerationTimestamp time.Time
	IsFallback          bool
}

// TableFromPoints builds a Table from per-hour value objects.
func TableFromPoints(points []ForecastPoint) *Table {
	t := &Table{Rows: make([]Row, len(points))}
	for i, p := range points {
		t.Rows[i] = Row{
			Timestamp:           p.Timestamp,
			Product:             p.Product,
			PointForecast:       p.PointForecast,
			Samples:             append([]float64(nil), p.Samples...),
			GenerationTimestamp: p.GenerationTimestamp,
			IsFallback:          p.IsFallback,
		}
	}
	return t
}

// PointsFromTable flattens a Table into per-hour value objects.
func PointsFromTable(t *Table) []ForecastPoint {
	points := make([]ForecastPoint, len(t.Rows))
	for i, r := range t.Rows {
		points[i] = ForecastPoint{
			Timestamp:           r.Timestamp,
			Product:             r.Product,
			PointForecast:       r.PointForecast,
			Samples:             append([]float64(nil), r.Samples...),
			GenerationTimestamp: r.GenerationTimestamp,
			IsFallback:          r.IsFallback,
		}
	}
	return points
}

// Meta summarizes a stored forecast for candidate evaluation without loading
// the full table. HorizonHours is zero when unknown.
type Meta struct {
	Timestamp           time.Time
	Product             Product
	GenerationTimestamp time.Time
	IsFallback          bool
	HorizonHours        int
}
