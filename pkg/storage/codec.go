package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"powercast/pkg/market"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRow is the parquet wire shape of a forecast row. Timestamps travel
// as epoch milliseconds; zero means the field was never stamped.
type parquetRow struct {
	Timestamp           int64     `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Product             string    `parquet:"name=product, type=BYTE_ARRAY, convertedtype=UTF8"`
	PointForecast       float64   `parquet:"name=point_forecast, type=DOUBLE"`
	Samples             []float64 `parquet:"name=samples, type=LIST, valuetype=DOUBLE"`
	GenerationTimestamp int64     `parquet:"name=generation_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	IsFallback          bool      `parquet:"name=is_fallback, type=BOOLEAN"`
	StorageTimestamp    int64     `parquet:"name=storage_timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	StorageVersion      string    `parquet:"name=storage_version, type=BYTE_ARRAY, convertedtype=UTF8"`
	SchemaVersion       string    `parquet:"name=schema_version, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).In(market.CentralTime())
}

// WriteTable persists a forecast table at path in the format implied by the
// filename suffix. The write is whole-file replace: content goes to a
// temporary file that is renamed over the destination, so a partial write
// never corrupts a previously good file.
func WriteTable(path string, t *market.Table) error {
	format, err := FormatForPath(path)
	if err != nil {
		return &FileOperationError{Path: path, Op: "write", Err: err}
	}

	tmp := path + ".tmp"
	switch format {
	case FormatParquet:
		err = writeParquet(tmp, t)
	case FormatCSV:
		err = writeCSV(tmp, t)
	}
	if err != nil {
		os.Remove(tmp)
		return &FileOperationError{Path: path, Op: "write", Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &FileOperationError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// ReadTable loads a forecast table from path, choosing the codec by suffix.
func ReadTable(path string) (*market.Table, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, &FileOperationError{Path: path, Op: "read", Err: err}
	}

	var t *market.Table
	switch format {
	case FormatParquet:
		t, err = readParquet(path)
	case FormatCSV:
		t, err = readCSV(path)
	}
	if err != nil {
		return nil, &FileOperationError{Path: path, Op: "read", Err: err}
	}
	return t, nil
}

func writeParquet(path string, t *market.Table) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 2)
	if err != nil {
		fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range t.Rows {
		pr := parquetRow{
			Timestamp:           toMillis(r.Timestamp),
			Product:             string(r.Product),
			PointForecast:       r.PointForecast,
			Samples:             r.Samples,
			GenerationTimestamp: toMillis(r.GenerationTimestamp),
			IsFallback:          r.IsFallback,
			StorageTimestamp:    toMillis(r.StorageTimestamp),
			StorageVersion:      r.StorageVersion,
			SchemaVersion:       r.SchemaVersion,
		}
		if err := pw.Write(pr); err != nil {
			fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

func readParquet(path string) (*market.Table, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(parquetRow), 2)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	raw := make([]parquetRow, num)
	if err := pr.Read(&raw); err != nil {
		return nil, err
	}

	t := &market.Table{Rows: make([]market.Row, num)}
	for i, r := range raw {
		t.Rows[i] = market.Row{
			Timestamp:           fromMillis(r.Timestamp),
			Product:             market.Product(r.Product),
			PointForecast:       r.PointForecast,
			Samples:             r.Samples,
			GenerationTimestamp: fromMillis(r.GenerationTimestamp),
			IsFallback:          r.IsFallback,
			StorageTimestamp:    fromMillis(r.StorageTimestamp),
			StorageVersion:      r.StorageVersion,
			SchemaVersion:       r.SchemaVersion,
		}
	}
	return t, nil
}

func writeCSV(path string, t *market.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	sampleCount := 0
	if len(t.Rows) > 0 {
		sampleCount = len(t.Rows[0].Samples)
	}
	header := []string{"timestamp", "product", "point_forecast"}
	for i := 0; i < sampleCount; i++ {
		header = append(header, fmt.Sprintf("sample_%03d", i))
	}
	header = append(header,
		"generation_timestamp", "is_fallback",
		"storage_timestamp", "storage_version", "schema_version")
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		rec := []string{
			formatTime(r.Timestamp),
			string(r.Product),
			strconv.FormatFloat(r.PointForecast, 'f', -1, 64),
		}
		for i := 0; i < sampleCount; i++ {
			v := 0.0
			if i < len(r.Samples) {
				v = r.Samples[i]
			}
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		rec = append(rec,
			formatTime(r.GenerationTimestamp),
			strconv.FormatBool(r.IsFallback),
			formatTime(r.StorageTimestamp),
			r.StorageVersion,
			r.SchemaVersion,
		)
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readCSV(path string) (*market.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &market.Table{}, nil
	}

	col := make(map[string]int, len(records[0]))
	var sampleCols []int
	for i, name := range records[0] {
		col[name] = i
		if strings.HasPrefix(name, "sample_") {
			sampleCols = append(sampleCols, i)
		}
	}

	t := &market.Table{Rows: make([]market.Row, 0, len(records)-1)}
	for _, rec := range records[1:] {
		row := market.Row{
			Product: market.Product(field(rec, col, "product")),
		}
		if row.Timestamp, err = parseTime(field(rec, col, "timestamp")); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", field(rec, col, "timestamp"), err)
		}
		if row.PointForecast, err = strconv.ParseFloat(field(rec, col, "point_forecast"), 64); err != nil {
			return nil, fmt.Errorf("bad point_forecast: %w", err)
		}
		for _, ci := range sampleCols {
			v, err := strconv.ParseFloat(rec[ci], 64)
			if err != nil {
				return nil, fmt.Errorf("bad sample column %d: %w", ci, err)
			}
			row.Samples = append(row.Samples, v)
		}
		if row.GenerationTimestamp, err = parseTime(field(rec, col, "generation_timestamp")); err != nil {
			return nil, fmt.Errorf("bad generation_timestamp: %w", err)
		}
		row.IsFallback = field(rec, col, "is_fallback") == "true"
		if row.StorageTimestamp, err = parseTime(field(rec, col, "storage_timestamp")); err != nil {
			return nil, fmt.Errorf("bad storage_timestamp: %w", err)
		}
		row.StorageVersion = field(rec, col, "storage_version")
		row.SchemaVersion = field(rec, col, "schema_version")
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func field(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(market.CentralTime()), nil
}
