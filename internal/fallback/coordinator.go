package fallback

import (
	"errors"
	"time"

	"powercast/pkg/market"
	"powercast/pkg/storage"

	"go.uber.org/zap"
)

// Coordinator is the top-level fallback entry point. Callers hand it the
// failing error, the component it came from, and the (product, target date)
// the missing forecast was for; they get back a substituted forecast table
// or a single ActivationError. When the detector declines activation, the
// original error comes back unchanged so fallback stays transparent.
type Coordinator struct {
	detector  *Detector
	retriever *Retriever
	store     *storage.Manager
	events    *EventLog
	persist   bool
	logger    *zap.Logger
}

// NewCoordinator wires the fallback chain. events may be nil to skip event
// recording; persist controls whether adjusted forecasts are written back
// through the storage manager.
func NewCoordinator(detector *Detector, retriever *Retriever, store *storage.Manager,
	events *EventLog, persist bool, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		detector:  detector,
		retriever: retriever,
		store:     store,
		events:    events,
		persist:   persist,
		logger:    logger,
	}
}

// Activate runs detection, retrieval, and adjustment for a failed forecast.
func (c *Coordinator) Activate(cause error, component string, product market.Product,
	targetDate time.Time) (*market.Table, error) {

	cls, err := c.detector.Detect(cause, component)
	if err != nil {
		return nil, c.fail(component, product, targetDate, err)
	}

	if !c.detector.ShouldActivate(cls) {
		c.logger.Info("fallback declined, propagating original failure",
			zap.String("component", component),
			zap.String("category", string(cls.Category)),
			zap.String("product", string(product)))
		return nil, cause
	}

	t, sel, err := c.retriever.Retrieve(product, targetDate)
	if err != nil {
		return nil, c.fail(component, product, targetDate, err)
	}

	if c.persist && c.store != nil {
		if _, err := c.store.Save(t, targetDate, product, true); err != nil {
			return nil, c.fail(component, product, targetDate, err)
		}
	}

	if err := c.recordEvent(cause, component, cls, product, sel); err != nil {
		return nil, c.fail(component, product, targetDate, err)
	}

	c.logger.Info("fallback forecast activated",
		zap.String("component", component),
		zap.String("product", string(product)),
		zap.String("target_date", targetDate.Format("2006-01-02")),
		zap.String("source_date", sel.SourceDate.Format("2006-01-02")),
		zap.Int("fallback_age_days", sel.AgeDays))
	return t, nil
}

// recordEvent writes the activation to the event log. A logging failure is
// surfaced to the caller unless it is just a recurrence of the error already
// being handled; a distinct failure must not silently vanish.
func (c *Coordinator) recordEvent(cause error, component string, cls Classification,
	product market.Product, sel *Selection) error {

	if c.events == nil {
		return nil
	}
	err := c.events.Record(Event{
		OccurredAt: time.Now().In(market.CentralTime()),
		Component:  component,
		Category:   string(cls.Category),
		Product:    string(product),
		TargetDate: sel.TargetDate.Format("2006-01-02"),
		SourceDate: sel.SourceDate.Format("2006-01-02"),
		AgeDays:    sel.AgeDays,
		Cascaded:   sel.CascadedFromFallback,
		Cause:      cause.Error(),
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, cause) || err.Error() == cause.Error() {
		c.logger.Warn("fallback event record failed with the error already being handled",
			zap.Error(err))
		return nil
	}
	return err
}

func (c *Coordinator) fail(component string, product market.Product,
	targetDate time.Time, err error) error {

	actErr := &ActivationError{
		Component:  component,
		Product:    product,
		TargetDate: targetDate,
		Err:        err,
	}
	c.logger.Error("fallback activation failed",
		zap.String("component", component),
		zap.String("product", string(product)),
		zap.String("target_date", targetDate.Format("2006-01-02")),
		zap.Error(err))
	return actErr
}
