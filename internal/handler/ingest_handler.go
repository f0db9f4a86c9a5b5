package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/ingest"
)

// IngestHandler handles telemetry event ingestion.
type IngestHandler struct {
	ingestor *ingest.Ingestor
	logger   zerolog.Logger
	disabled bool
}

// NewIngestHandler creates an IngestHandler. telemetryDisabled mirrors
// TELEMETRY_DISABLED (spec.md §6): when set, the ingest endpoint
// accepts and discards every event without writing it.
func NewIngestHandler(ingestor *ingest.Ingestor, logger zerolog.Logger, telemetryDisabled bool) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, logger: logger, disabled: telemetryDisabled}
}

// serverIDFromRequest reads the ingesting client's server identity
// from the request header or query parameter.
func serverIDFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Server-Id"); v != "" {
		return v
	}
	return r.URL.Query().Get("serverId")
}

type singletonResponse struct {
	Status string `json:"status"`
}

type batchResponse struct {
	Successful int      `json:"successful"`
	Errors     int      `json:"errors"`
	Failures   []string `json:"failures,omitempty"`
}

// Create handles POST /v1/events, per spec.md §6: the body is either a
// single JSON object or a JSON array (batch <= ingest.MaxBatchSize).
// A singleton body responds {status: "ok"}; a batch body responds
// {successful, errors, failures}.
func (h *IngestHandler) Create(w http.ResponseWriter, r *http.Request) {
	serverID := serverIDFromRequest(r)
	if serverID == "" {
		WriteError(w, http.StatusBadRequest, "missing_server_id", "X-Server-Id header or serverId query parameter is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}

	if h.disabled {
		WriteJSON(w, http.StatusAccepted, singletonResponse{Status: "ok"})
		return
	}

	if isJSONArray(body) {
		var elements []json.RawMessage
		if err := json.Unmarshal(body, &elements); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_body", "could not decode event array")
			return
		}
		if len(elements) > ingest.MaxBatchSize {
			WriteError(w, http.StatusBadRequest, "batch_too_large", "batch exceeds the maximum event count")
			return
		}

		raw := make([][]byte, len(elements))
		for i, e := range elements {
			raw[i] = e
		}
		outcomes := h.ingestor.IngestBatch(r.Context(), raw, serverID)
		WriteJSON(w, http.StatusAccepted, summarizeBatch(outcomes))
		return
	}

	h.ingestor.IngestOne(r.Context(), body, serverID)
	WriteJSON(w, http.StatusAccepted, singletonResponse{Status: "ok"})
}

// isJSONArray reports whether raw's first non-whitespace byte is '['.
func isJSONArray(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func summarizeBatch(outcomes []ingest.Outcome) batchResponse {
	var res batchResponse
	for _, o := range outcomes {
		if o.Quarantined {
			res.Errors++
			res.Failures = append(res.Failures, o.Reason)
			continue
		}
		if o.Accepted {
			res.Successful++
			continue
		}
		res.Errors++
		res.Failures = append(res.Failures, o.Reason)
	}
	return res
}
