package fallback

import (
	"errors"
	"fmt"
	"time"

	"powercast/pkg/market"

	"go.uber.org/zap"
)

// CandidateStore is the slice of the storage manager the retriever consumes.
type CandidateStore interface {
	Exists(date time.Time, product market.Product) bool
	Metadata(date time.Time, product market.Product) (market.Meta, bool, error)
	Get(date time.Time, product market.Product) (*market.Table, error)
}

// Selection is the transient metadata of a successful candidate search.
type Selection struct {
	SourceDate           time.Time
	TargetDate           time.Time
	AgeDays              int
	CascadedFromFallback bool
	SourceGeneration     time.Time
}

// RetrieverConfig tunes the backward search.
type RetrieverConfig struct {
	MaxSearchDays int  // how many days back to look; 0 means the default 7
	AllowCascade  bool // whether a fallback forecast may source another fallback
}

// DefaultRetrieverConfig matches the outer search defaults: seven days back,
// cascading allowed.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{MaxSearchDays: 7, AllowCascade: true}
}

// Retriever walks backward day by day from a target date to find the nearest
// prior forecast suitable for reuse. The walk is strictly sequential and
// bounded by MaxSearchDays.
type Retriever struct {
	store    CandidateStore
	adjuster *Adjuster
	cfg      RetrieverConfig
	logger   *zap.Logger
}

func NewRetriever(store CandidateStore, adjuster *Adjuster, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if cfg.MaxSearchDays <= 0 {
		cfg.MaxSearchDays = 7
	}
	return &Retriever{store: store, adjuster: adjuster, cfg: cfg, logger: logger}
}

// FindFallback locates the nearest suitable prior forecast. Input validation
// failures short-circuit before any I/O. An exhausted walk returns
// NoFallbackError with the product, target date, and days searched.
func (r *Retriever) FindFallback(product market.Product, targetDate time.Time) (time.Time, *Selection, error) {
	if !product.IsValid() {
		return time.Time{}, nil, &market.InvalidProductError{Product: string(product)}
	}
	if targetDate.IsZero() {
		return time.Time{}, nil, fmt.Errorf("target date is required")
	}

	for daysBack := 1; daysBack <= r.cfg.MaxSearchDays; daysBack++ {
		candidate := targetDate.AddDate(0, 0, -daysBack)
		if !r.store.Exists(candidate, product) {
			continue
		}

		meta, ok, err := r.store.Metadata(candidate, product)
		if err != nil || !ok {
			continue
		}
		if reason, suitable := r.suitable(meta); !suitable {
			r.logger.Debug("fallback candidate rejected",
				zap.String("product", string(product)),
				zap.String("candidate_date", candidate.Format("2006-01-02")),
				zap.String("reason", reason))
			continue
		}

		sel := &Selection{
			SourceDate:           candidate,
			TargetDate:           targetDate,
			AgeDays:              daysBack,
			CascadedFromFallback: meta.IsFallback,
			SourceGeneration:     meta.GenerationTimestamp,
		}
		r.logger.Info("fallback candidate selected",
			zap.String("product", string(product)),
			zap.String("source_date", candidate.Format("2006-01-02")),
			zap.Int("fallback_age_days", daysBack),
			zap.Bool("cascaded", meta.IsFallback))
		return candidate, sel, nil
	}

	return time.Time{}, nil, &NoFallbackError{
		Product:      product,
		TargetDate:   targetDate,
		DaysSearched: r.cfg.MaxSearchDays,
	}
}

// suitable evaluates the candidate metadata. Required fields must be
// present; a fallback candidate is rejected when cascading is disallowed; a
// known horizon under 24 hours is insufficient coverage.
func (r *Retriever) suitable(meta market.Meta) (string, bool) {
	if meta.Timestamp.IsZero() || meta.Product == "" || meta.GenerationTimestamp.IsZero() {
		return "missing required metadata", false
	}
	if !r.cfg.AllowCascade && meta.IsFallback {
		return "candidate is itself a fallback and cascading is disallowed", false
	}
	if meta.HorizonHours > 0 && meta.HorizonHours < 24 {
		return fmt.Sprintf("horizon %dh below 24h", meta.HorizonHours), false
	}
	return "", true
}

// Retrieve runs the search, loads the selected table, and re-anchors it onto
// the target date. A no-fallback outcome from the search propagates
// unchanged; unexpected load or adjust failures are wrapped as a
// RetrievalError with the original cause.
func (r *Retriever) Retrieve(product market.Product, targetDate time.Time) (*market.Table, *Selection, error) {
	sourceDate, sel, err := r.FindFallback(product, targetDate)
	if err != nil {
		return nil, nil, err
	}

	t, err := r.store.Get(sourceDate, product)
	if err != nil {
		return nil, nil, &RetrievalError{Product: product, TargetDate: targetDate, Err: err}
	}

	adjusted, err := r.adjuster.Adjust(t, product, sourceDate, targetDate)
	if err != nil {
		return nil, nil, &RetrievalError{Product: product, TargetDate: targetDate, Err: err}
	}

	r.logger.Info("fallback forecast retrieved",
		zap.String("product", string(product)),
		zap.String("source_date", sourceDate.Format("2006-01-02")),
		zap.String("target_date", targetDate.Format("2006-01-02")),
		zap.Int("rows", len(adjusted.Rows)))
	return adjusted, sel, nil
}

// IsNoFallback reports whether err is an exhausted-search outcome rather
// than an operational failure.
func IsNoFallback(err error) bool {
	var nf *NoFallbackError
	return errors.As(err, &nf)
}
