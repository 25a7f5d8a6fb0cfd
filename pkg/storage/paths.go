// Package storage persists forecast tables on disk under a dated directory
// tree, maintains a tabular index over them, and exposes a manager façade
// combining path resolution, schema checks, and the index.
package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"powercast/pkg/market"
)

// Format selects the on-disk file format for a forecast table.
type Format string

const (
	FormatParquet Format = "parquet" // columnar binary, default
	FormatCSV     Format = "csv"     // plain delimited text
)

// Ext returns the filename suffix for the format.
func (f Format) Ext() string { return string(f) }

// FormatForPath derives the format from a filename suffix.
func FormatForPath(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".parquet":
		return FormatParquet, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported forecast file extension: %s", filepath.Ext(path))
	}
}

// latestDir is the directory under the root holding per-product latest
// pointers.
const latestDir = "latest"

// PathResolver maps (date, product) to locations under a fixed storage root.
// Resolution is a pure function of the inputs.
type PathResolver struct {
	Root string
}

// PathFor resolves the dated file path for a product forecast:
// root/YYYY/MM/DD_PRODUCT.ext.
func (r *PathResolver) PathFor(date time.Time, product market.Product, format Format) (string, error) {
	if !product.IsValid() {
		return "", &market.InvalidProductError{Product: string(product)}
	}
	return filepath.Join(
		r.Root,
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", int(date.Month())),
		fmt.Sprintf("%02d_%s.%s", date.Day(), product, format.Ext()),
	), nil
}

// LatestPathFor resolves the per-product latest pointer path:
// root/latest/PRODUCT.ext. The pointer is a symlink to the dated file with
// the most recent generation time, which is not necessarily the most recent
// date.
func (r *PathResolver) LatestPathFor(product market.Product, format Format) (string, error) {
	if !product.IsValid() {
		return "", &market.InvalidProductError{Product: string(product)}
	}
	return filepath.Join(r.Root, latestDir, fmt.Sprintf("%s.%s", product, format.Ext())), nil
}

// IndexPath resolves the fixed location of the forecast index file.
func (r *PathResolver) IndexPath() string {
	return filepath.Join(r.Root, "forecast_index.csv")
}
