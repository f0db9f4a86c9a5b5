package ingest

import (
	"encoding/json"
	"time"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/eventjson"
)

// v2Areas and v1EventNames are the closed sets version detection
// checks against, per spec.md §4.3.
var v2Areas = map[string]domain.Area{
	"tool":    domain.AreaTool,
	"session": domain.AreaSession,
	"general": domain.AreaGeneral,
}

var v1EventNames = map[string]domain.EventTypeName{
	"tool_call":     domain.EventTypeToolCall,
	"tool_error":    domain.EventTypeToolError,
	"session_start": domain.EventTypeSessionStart,
	"session_end":   domain.EventTypeSessionEnd,
	"error":         domain.EventTypeError,
	"custom":        domain.EventTypeCustom,
}

// Denormalized holds the fields the Parser pulls out of the payload
// for fast querying without re-parsing JSON.
type Denormalized struct {
	OrgID        *string
	UserName     *string
	ToolName     *string
	CompanyName  *string
	ErrorMessage *string
}

// ParsedEvent is the canonical shape every downstream component
// (Session Reconciler, Ingestor, Aggregate Maintainer) consumes,
// exactly as spec.md §4.3 defines it.
type ParsedEvent struct {
	EventType        domain.EventTypeName
	Area             domain.Area
	Timestamp        time.Time
	ServerID         string
	Version          string
	SessionID        *string
	ParentSessionID  *string // always nil out of the parser; set by the reconciler
	UserID           *string
	Success          bool
	Denormalized     Denormalized
	SchemaVersion    int
	PayloadAsReceived json.RawMessage
	tree             any
}

// Parse decodes raw, a single JSON event payload, into a ParsedEvent.
// raw is retained byte-for-bit in PayloadAsReceived for audit
// round-trip. receivedAt is used as the timestamp fallback when the
// payload's own timestamp is absent or unparsable.
func Parse(raw []byte, serverID string, receivedAt time.Time) (ParsedEvent, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return ParsedEvent{}, ErrMalformedPayload
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return ParsedEvent{}, ErrMalformedPayload
	}

	eventType, area, schemaVersion, ok := detectSchema(obj)
	if !ok {
		return ParsedEvent{}, ErrUnknownSchema
	}

	p := ParsedEvent{
		EventType:        eventType,
		Area:             area,
		ServerID:         serverID,
		Version:          stringOr(obj["version"], "1"),
		SchemaVersion:    schemaVersion,
		Success:          successOr(obj, true),
		PayloadAsReceived: json.RawMessage(raw),
		tree:             obj,
	}

	p.Timestamp = parseTimestamp(obj, receivedAt)

	if v, ok := eventjson.FirstString(obj,
		"sessionId", "session_id", "session", "session.id",
		"data.sessionId", "data.session_id", "data.session.id",
	); ok {
		p.SessionID = &v
	}

	if v, ok := eventjson.FirstString(obj,
		"userId", "user_id",
		"data.userId", "data.user_id", "data.user.id",
		"data.userName", "data.user_name", "data.user.name",
	); ok {
		p.UserID = &v
	}

	if v, ok := eventjson.FirstString(obj, "data.userName", "data.user_name", "data.user.name"); ok {
		p.Denormalized.UserName = &v
	}
	if v, ok := eventjson.FirstString(obj, "data.orgId", "data.state.org.id"); ok {
		p.Denormalized.OrgID = &v
	}
	if v, ok := eventjson.FirstString(obj, "data.toolName", "data.tool", "data.error.toolName", "data.error.tool"); ok {
		p.Denormalized.ToolName = &v
	}
	if v, ok := eventjson.FirstString(obj, "data.state.org.companyDetails.Name", "data.companyDetails.Name"); ok {
		p.Denormalized.CompanyName = &v
	}
	if v, ok := eventjson.FirstString(obj, "data.errorMessage", "data.error.message"); ok {
		p.Denormalized.ErrorMessage = &v
	}

	return p, nil
}

// detectSchema implements spec.md §4.3's version-detection order:
// explicit integer schemaVersion wins, else a recognized v2 area,
// else a recognized v1 event name, else UnknownSchema.
func detectSchema(obj map[string]any) (domain.EventTypeName, domain.Area, int, bool) {
	if sv, ok := asInt(obj["schemaVersion"]); ok {
		if sv == 2 {
			if area, eventType, ok := fromV2(obj); ok {
				return eventType, area, sv, true
			}
		}
		if eventType, ok := fromV1(obj); ok {
			return eventType, areaForType(eventType), sv, true
		}
		// schemaVersion was explicit but unmapped: it wins over any
		// area/event-name guess, so this payload is unknown rather
		// than silently reclassified under a different version.
		return "", "", 0, false
	}

	if area, eventType, ok := fromV2(obj); ok {
		return eventType, area, 2, true
	}

	if eventType, ok := fromV1(obj); ok {
		return eventType, areaForType(eventType), 1, true
	}

	return "", "", 0, false
}

func fromV2(obj map[string]any) (domain.Area, domain.EventTypeName, bool) {
	areaStr, ok := eventjson.AsTrimmedString(obj["area"])
	if !ok {
		return "", "", false
	}
	area, ok := v2Areas[areaStr]
	if !ok {
		return "", "", false
	}
	eventType, ok := fromV1(obj)
	if !ok {
		// area recognized but no v1-compatible event name: fall back
		// to custom, still a valid v2 event.
		eventType = domain.EventTypeCustom
	}
	return area, eventType, true
}

func fromV1(obj map[string]any) (domain.EventTypeName, bool) {
	eventStr, ok := eventjson.AsTrimmedString(obj["event"])
	if !ok {
		return "", false
	}
	eventType, ok := v1EventNames[eventStr]
	return eventType, ok
}

func areaForType(t domain.EventTypeName) domain.Area {
	switch t {
	case domain.EventTypeToolCall, domain.EventTypeToolError:
		return domain.AreaTool
	case domain.EventTypeSessionStart, domain.EventTypeSessionEnd:
		return domain.AreaSession
	default:
		return domain.AreaGeneral
	}
}

func parseTimestamp(obj map[string]any, fallback time.Time) time.Time {
	s, ok := eventjson.AsTrimmedString(obj["timestamp"])
	if !ok || s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func successOr(obj map[string]any, def bool) bool {
	v, ok := obj["success"]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func stringOr(v any, def string) string {
	s, ok := eventjson.AsTrimmedString(v)
	if !ok || s == "" {
		return def
	}
	return s
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
