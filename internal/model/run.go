package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single find-sellers extraction over one or more payloads.
type Run struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        RunStatus  `json:"status"`
	Payloads      int        `json:"payloads"`
	MaxProperties int        `json:"max_properties,omitempty"`
	Result        *RunResult `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	PropertiesFound     int              `json:"properties_found"`
	PropertiesProcessed int              `json:"properties_processed"`
	Contacts            int              `json:"contacts"`
	Failures            int              `json:"failures"`
	Calls               map[string]int64 `json:"calls,omitempty"`
	DurationMs          int64            `json:"duration_ms"`
	Error               string           `json:"error,omitempty"`
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Name   string    `json:"name,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}
