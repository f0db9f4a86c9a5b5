package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/telemetryhub/ingestd/internal/cache"
	"github.com/telemetryhub/ingestd/internal/query"
)

// QueryHandler handles read paths over the telemetry fact table.
type QueryHandler struct {
	engine *query.Engine
	topN   *cache.TopNCache
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(engine *query.Engine, topN *cache.TopNCache) *QueryHandler {
	return &QueryHandler{engine: engine, topN: topN}
}

// ListEvents handles GET /v1/events.
func (h *QueryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := query.EventFilter{
		Areas:          splitCSV(q.Get("area")),
		EventTypes:     splitCSV(q.Get("eventType")),
		ServerID:       q.Get("serverId"),
		SessionID:      q.Get("sessionId"),
		UserIDs:        splitCSV(q.Get("userId")),
		IncludeDeleted: q.Get("includeDeleted") == "true",
		OrderBy:        defaultString(q.Get("orderBy"), "timestamp"),
		Descending:     q.Get("order") != "asc",
		Limit:          intOrDefault(q.Get("limit"), 100),
		Offset:         intOrDefault(q.Get("offset"), 0),
	}
	if t, ok := parseTime(q.Get("startDate")); ok {
		f.StartDate = &t
	}
	if t, ok := parseTime(q.Get("endDate")); ok {
		f.EndDate = &t
	}

	page, err := h.engine.GetEvents(r.Context(), f)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, page)
}

// ListSessions handles GET /v1/sessions.
func (h *QueryHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := h.engine.GetSessions(r.Context(), q.Get("serverId"), intOrDefault(q.Get("limit"), 50), intOrDefault(q.Get("offset"), 0))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, sessions)
}

// DailyStats handles GET /v1/stats/daily.
func (h *QueryHandler) DailyStats(w http.ResponseWriter, r *http.Request) {
	days := intOrDefault(r.URL.Query().Get("days"), 30)
	stats, err := h.engine.GetDailyStats(r.Context(), days)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, stats)
}

// DailyStatsByEventType handles GET /v1/stats/by-event-type.
func (h *QueryHandler) DailyStatsByEventType(w http.ResponseWriter, r *http.Request) {
	days := intOrDefault(r.URL.Query().Get("days"), 30)
	stats, err := h.engine.GetDailyStatsByEventType(r.Context(), days)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, stats)
}

// TopUsers handles GET /v1/stats/top-users, read-through a short-TTL
// cache since this query scans the full window on every miss.
func (h *QueryHandler) TopUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topN := intOrDefault(q.Get("limit"), 10)
	days := intOrDefault(q.Get("days"), 30)
	key := cache.Key("users", days, topN)

	if cached, ok := h.topN.Get(r.Context(), key); ok {
		WriteSuccess(w, cached)
		return
	}

	stats, err := h.engine.GetTopUsersLastDays(r.Context(), topN, days)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	h.topN.Set(r.Context(), key, stats)
	WriteSuccess(w, stats)
}

// TopTeams handles GET /v1/stats/top-teams.
func (h *QueryHandler) TopTeams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topN := intOrDefault(q.Get("limit"), 10)
	days := intOrDefault(q.Get("days"), 30)
	key := cache.Key("teams", days, topN)

	if cached, ok := h.topN.Get(r.Context(), key); ok {
		WriteSuccess(w, cached)
		return
	}

	stats, err := h.engine.GetTopTeamsLastDays(r.Context(), topN, days)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	h.topN.Set(r.Context(), key, stats)
	WriteSuccess(w, stats)
}

// ToolUsage handles GET /v1/stats/tools.
func (h *QueryHandler) ToolUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetToolUsageStats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, stats)
}

// DatabaseSize handles GET /v1/db/size.
func (h *QueryHandler) DatabaseSize(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(intOrDefault(r.URL.Query().Get("maxBytes"), 1<<30))
	size, err := h.engine.GetDatabaseSize(r.Context(), maxBytes)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, size)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
