package fallback

import (
	"encoding/json"
	"os"
	"time"
)

// Event is one fallback activation, recorded as a JSON line for audit.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Component  string    `json:"component"`
	Category   string    `json:"category"`
	Product    string    `json:"product"`
	TargetDate string    `json:"target_date"`
	SourceDate string    `json:"source_date"`
	AgeDays    int       `json:"fallback_age_days"`
	Cascaded   bool      `json:"cascaded"`
	Cause      string    `json:"cause"`
}

// EventLog appends activation events to a JSON-lines file under the storage
// root.
type EventLog struct {
	path string
}

func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Record appends one event. Failures come back as EventLogError so callers
// can distinguish a bookkeeping failure from the error being reported.
func (l *EventLog) Record(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return &EventLogError{Path: l.path, Err: err}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &EventLogError{Path: l.path, Err: err}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return &EventLogError{Path: l.path, Err: err}
	}
	return nil
}
