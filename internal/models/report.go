package models

import "time"

// Observation is a single state change seen by an agent.
type Observation struct {
	ResourceID string           `json:"resource_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Type       AvailabilityType `json:"type"`
}

// Report is a batch of observations submitted by one agent.
type Report struct {
	Agent        string        `json:"agent"`
	Enablement   bool          `json:"enablement"`
	Observations []Observation `json:"observations"`
}

// Agent carries the liveness bookkeeping for one reporting agent.
type Agent struct {
	Name          string    `json:"name"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastReport    time.Time `json:"last_report"`
	Backfilled    bool      `json:"backfilled"`
}

// Diagnostic explains why one observation of a report was not applied.
type Diagnostic struct {
	ResourceID string    `json:"resource_id"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
}

// MergeResult summarises how a report was applied.
type MergeResult struct {
	ReportID  string       `json:"report_id"`
	Agent     string       `json:"agent"`
	Applied   int          `json:"applied"`
	Unchanged int          `json:"unchanged"`
	Skipped   []Diagnostic `json:"skipped,omitempty"`
	Repaired  []string     `json:"repaired,omitempty"`
}
