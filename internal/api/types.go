package api

import (
	"time"

	"github.com/helix-sec/crucible/internal/telemetry"
)

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// EventResult is the per-event outcome of an ingest request.
type EventResult struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"` // stored | duplicate | conflict | invalid
	Detail  string `json:"detail,omitempty"`
}

// IngestResp summarizes one ingest request. Counts are per outcome so
// at-least-once producers can see what their re-deliveries did.
type IngestResp struct {
	Results    []EventResult `json:"results"`
	Stored     int           `json:"stored"`
	Duplicates int           `json:"duplicates"`
	Conflicts  int           `json:"conflicts"`
	Invalid    int           `json:"invalid"`
}

// TransitionReq is the body of POST /ingest/lifecycle.
type TransitionReq struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// TransitionResp acknowledges an accepted transition.
type TransitionResp struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RecentEventsResp wraps the recent-events listing.
type RecentEventsResp struct {
	Events []telemetry.Event `json:"events"`
	Count  int               `json:"count"`
}

// SessionListResp wraps a filtered session listing.
type SessionListResp struct {
	Sessions []SessionSummary `json:"sessions"`
	Count    int              `json:"count"`
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
	Details     string    `json:"details,omitempty"`
}
