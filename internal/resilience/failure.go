package resilience

import (
	"time"
)

// Failure records a property that could not be fully processed. The run
// carries on and reports failures alongside its records.
type Failure struct {
	PropertyID int64     `json:"property_id"`
	Phase      string    `json:"phase"`
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"` // "transient" or "permanent"
	FailedAt   time.Time `json:"failed_at"`
}

// NewFailure builds a Failure for propertyID in phase.
func NewFailure(propertyID int64, phase string, err error) Failure {
	f := Failure{
		PropertyID: propertyID,
		Phase:      phase,
		ErrorType:  ClassifyError(err),
		FailedAt:   time.Now().UTC(),
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// ClassifyError reports "transient" for errors a later run might get past
// and "permanent" for everything else, including errors marked permanent.
func ClassifyError(err error) string {
	if !IsPermanent(err) && IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
