package domain

import "time"

// EventStats is the shape shared by the per-user and per-org rollup
// tables: a count and the timestamp of the most recent contributing
// event, reconstructable at any time from the fact table.
type EventStats struct {
	Key         string    `json:"key"`
	Count       int64     `json:"count"`
	LastEvent   time.Time `json:"last_event"`
	DisplayName *string   `json:"display_name,omitempty"`
}

// DailyCount is one bucket of a dense daily time series.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD, UTC
	Count int64  `json:"count"`
}

// EventTypeDailyStats splits daily counts by the three categories
// byEventType reports.
type EventTypeDailyStats struct {
	StartSessionsWithoutEnd []DailyCount `json:"start_sessions_without_end"`
	ToolEvents              []DailyCount `json:"tool_events"`
	ErrorEvents             []DailyCount `json:"error_events"`
}

// SessionSummary is one row of getSessions: a logical session with its
// aggregated shape.
type SessionSummary struct {
	SessionID       string     `json:"session_id"`
	Count           int64      `json:"count"`
	FirstTimestamp  time.Time  `json:"first_timestamp"`
	LastTimestamp   time.Time  `json:"last_timestamp"`
	UserID          *string    `json:"user_id,omitempty"`
	UserName        *string    `json:"user_name,omitempty"`
	HasSessionStart bool       `json:"has_session_start"`
	HasSessionEnd   bool       `json:"has_session_end"`
	IsActive        bool       `json:"is_active"`
	ActiveSince     *time.Time `json:"active_since,omitempty"`
}

// ToolUsage is per-tool success/error counts.
type ToolUsage struct {
	ToolName   string `json:"tool_name"`
	Successful int64  `json:"successful"`
	Errors     int64  `json:"errors"`
}

// DatabaseSize reports storage usage against a soft ceiling.
type DatabaseSize struct {
	BytesUsed int64 `json:"bytes_used"`
	MaxBytes  int64 `json:"max_bytes"`
}
