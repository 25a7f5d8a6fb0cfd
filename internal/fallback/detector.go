// Package fallback degrades the forecasting pipeline gracefully: it
// classifies stage failures, walks backward through stored forecasts for a
// reusable candidate, re-anchors its timestamps to the target date, and
// serves the result in place of the forecast that failed to generate.
package fallback

import (
	"errors"
	"fmt"
	"time"

	"powercast/pkg/pipeline"

	"go.uber.org/zap"
)

// Category is the classification bucket for a pipeline failure.
type Category string

const (
	CategoryDataSource Category = "data_source"
	CategoryFeature    Category = "feature"
	CategoryModel      Category = "model"
	CategoryValidation Category = "validation"
	CategoryStorage    Category = "storage"
	CategoryPipeline   Category = "pipeline"
	CategoryUnknown    Category = "unknown"
)

// Details carries the category-specific diagnostic fields pulled from a
// classified error. Only the fields relevant to the category are set.
type Details struct {
	SourceName   string
	FeatureName  string
	Product      string
	Hour         time.Time
	Errors       []string
	FilePath     string
	Operation    string
	PipelineName string
	StageName    string
}

// Classification is the transient result of classifying one failure.
type Classification struct {
	Category Category
	Details  Details
}

// criticalStages are the pipeline stages whose failure justifies serving a
// fallback forecast. Failures in later stages (reporting, publishing) leave
// a usable forecast behind and do not.
var criticalStages = map[string]struct{}{
	"data_ingestion":      {},
	"feature_engineering": {},
	"forecasting":         {},
	"validation":          {},
}

// Detector classifies pipeline failures and decides whether fallback
// activation is warranted.
type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Classify maps a failure onto its category and extracts the diagnostic
// payload. The pipeline error set is closed, so this is an exhaustive
// dispatch; anything outside it is CategoryUnknown.
func (d *Detector) Classify(err error) Classification {
	var (
		dsErr    *pipeline.DataSourceError
		featErr  *pipeline.FeatureError
		modelErr *pipeline.ModelError
		valErr   *pipeline.ValidationError
		stoErr   *pipeline.StorageError
		stgErr   *pipeline.StageError
	)

	switch {
	case errors.As(err, &dsErr):
		return Classification{
			Category: CategoryDataSource,
			Details:  Details{SourceName: dsErr.Source},
		}
	case errors.As(err, &featErr):
		return Classification{
			Category: CategoryFeature,
			Details:  Details{FeatureName: featErr.Feature},
		}
	case errors.As(err, &modelErr):
		return Classification{
			Category: CategoryModel,
			Details:  Details{Product: modelErr.Product, Hour: modelErr.Hour},
		}
	case errors.As(err, &valErr):
		return Classification{
			Category: CategoryValidation,
			Details:  Details{Errors: valErr.Errors},
		}
	case errors.As(err, &stoErr):
		return Classification{
			Category: CategoryStorage,
			Details:  Details{FilePath: stoErr.Path, Operation: stoErr.Operation},
		}
	case errors.As(err, &stgErr):
		return Classification{
			Category: CategoryPipeline,
			Details:  Details{PipelineName: stgErr.Pipeline, StageName: stgErr.Stage},
		}
	default:
		return Classification{Category: CategoryUnknown}
	}
}

// ShouldActivate applies the per-category decision table. Storage failures
// trigger fallback only on reads: a write failure means the forecast itself
// was produced. Pipeline failures trigger only for critical stages. Unknown
// failures never do.
func (d *Detector) ShouldActivate(c Classification) bool {
	switch c.Category {
	case CategoryDataSource, CategoryFeature, CategoryModel, CategoryValidation:
		return true
	case CategoryStorage:
		return c.Details.Operation == "read"
	case CategoryPipeline:
		_, ok := criticalStages[c.Details.StageName]
		return ok
	default:
		return false
	}
}

// Detect classifies a failure raised in the named component. A nil cause is
// itself an internal detection error, wrapped rather than swallowed.
func (d *Detector) Detect(cause error, component string) (Classification, error) {
	if cause == nil {
		return Classification{}, &DetectionError{
			Component: component,
			Err:       fmt.Errorf("no failure to classify"),
		}
	}

	c := d.Classify(cause)
	d.logger.Info("pipeline failure classified",
		zap.String("component", component),
		zap.String("category", string(c.Category)),
		zap.Error(cause))
	return c, nil
}
