package handler

import (
	"encoding/json"
	"net/http"

	"github.com/telemetryhub/ingestd/internal/exportimport"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// ExportImportHandler handles the full-database export/import protocol.
type ExportImportHandler struct {
	db storage.Storage
}

// NewExportImportHandler creates an ExportImportHandler.
func NewExportImportHandler(db storage.Storage) *ExportImportHandler {
	return &ExportImportHandler{db: db}
}

// Export handles GET /v1/export.
func (h *ExportImportHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := exportimport.Export(r.Context(), h.db)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="telemetry-export.json"`)
	WriteJSON(w, http.StatusOK, doc)
}

// Import handles POST /v1/import.
func (h *ExportImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	var doc exportimport.Document
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "could not decode export document")
		return
	}

	n, err := exportimport.Import(r.Context(), h.db, doc)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "import_failed", err.Error())
		return
	}
	WriteSuccess(w, map[string]int{"rowsImported": n})
}
