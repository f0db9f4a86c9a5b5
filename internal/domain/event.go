// Package domain contains the core domain models for the telemetry service.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EventTypeName is the enumerated set of canonical event type names.
type EventTypeName string

const (
	EventTypeToolCall     EventTypeName = "tool_call"
	EventTypeToolError    EventTypeName = "tool_error"
	EventTypeSessionStart EventTypeName = "session_start"
	EventTypeSessionEnd   EventTypeName = "session_end"
	EventTypeError        EventTypeName = "error"
	EventTypeCustom       EventTypeName = "custom"
)

// CanonicalEventTypes is the seeded, ordered set of event type names.
var CanonicalEventTypes = []EventTypeName{
	EventTypeToolCall,
	EventTypeToolError,
	EventTypeSessionStart,
	EventTypeSessionEnd,
	EventTypeError,
	EventTypeCustom,
}

// Area classifies the broad kind of an event.
type Area string

const (
	AreaTool    Area = "tool"
	AreaSession Area = "session"
	AreaGeneral Area = "general"
)

// EventType is a seeded row in the event_types table.
type EventType struct {
	ID   int64         `json:"id"`
	Name EventTypeName `json:"name"`
}

// Event is the canonical, normalized telemetry fact row.
type Event struct {
	ID                     int64           `json:"id"`
	EventID                int64           `json:"event_id"`
	EventType              EventTypeName   `json:"event_type"`
	Area                   Area            `json:"area"`
	Timestamp              time.Time       `json:"timestamp"`
	ServerID               string          `json:"server_id"`
	Version                string          `json:"version,omitempty"`
	SessionID              *string         `json:"session_id,omitempty"`
	ParentSessionID        *string         `json:"parent_session_id,omitempty"`
	UserID                 *string         `json:"user_id,omitempty"`
	Data                   json.RawMessage `json:"data"`
	ReceivedAt             time.Time       `json:"received_at"`
	CreatedAt              time.Time       `json:"created_at"`
	OrgID                  *string         `json:"org_id,omitempty"`
	UserName               *string         `json:"user_name,omitempty"`
	ToolName               *string         `json:"tool_name,omitempty"`
	CompanyName            *string         `json:"company_name,omitempty"`
	ErrorMessage           *string         `json:"error_message,omitempty"`
	TeamID                 *string         `json:"team_id,omitempty"`
	DeletedAt              *time.Time      `json:"deleted_at,omitempty"`
	Success                bool            `json:"success"`
	TelemetrySchemaVersion int             `json:"telemetry_schema_version"`
}

// IsDeleted reports whether the event is currently in the trash.
func (e *Event) IsDeleted() bool {
	return e.DeletedAt != nil
}

// LogicalSessionID returns the id that groups this event into a logical
// session: the parent session id if set, else the physical session id.
func (e *Event) LogicalSessionID() string {
	if e.ParentSessionID != nil && *e.ParentSessionID != "" {
		return *e.ParentSessionID
	}
	if e.SessionID != nil {
		return *e.SessionID
	}
	return ""
}

// pseudoSessionPrefix starts the synthetic logical session id used for
// events that carry no session id at all.
const pseudoSessionPrefix = "user_"

// PseudoSessionID formats the synthetic logical session id for a
// user's session-less events on a given UTC date (YYYY-MM-DD).
func PseudoSessionID(userID, date string) string {
	return pseudoSessionPrefix + userID + "_" + date
}

// ParsePseudoSessionID reverses PseudoSessionID. The date is always
// the last 10 characters after the final underscore-delimited split;
// user ids themselves may contain underscores.
func ParsePseudoSessionID(id string) (userID, date string, ok bool) {
	if !strings.HasPrefix(id, pseudoSessionPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(id, pseudoSessionPrefix)
	idx := strings.LastIndex(rest, "_")
	if idx < 0 || len(rest)-idx-1 != 10 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
