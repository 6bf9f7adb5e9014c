package http

import (
	"context"
	"net/http"

	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/middleware"
)

// IngestionService runs provider pulls and caller-supplied batches.
type IngestionService interface {
	RunIngestion(ctx context.Context, tenantID, connectionID, actor string) (*ingestion.Result, error)
	IngestBatch(ctx context.Context, tenantID, connectionID string, batch []transaction.RawRecord, actor string) (*ingestion.Result, error)
}

type IngestionHandler struct {
	ingestion IngestionService
	maxBatch  int
}

func NewIngestionHandler(svc IngestionService, maxBatch int) *IngestionHandler {
	if maxBatch <= 0 {
		maxBatch = 5000
	}
	return &IngestionHandler{ingestion: svc, maxBatch: maxBatch}
}

type BatchRequest struct {
	Records []transaction.RawRecord `json:"records"`
}

// HandleRun pulls every available statement page for the connection.
func (h *IngestionHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingestion.RunIngestion(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"), middleware.Actor(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleBatch imports records posted in the body.
func (h *IngestionHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "records must not be empty")
		return
	}
	if len(req.Records) > h.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", "too many records in one batch")
		return
	}

	res, err := h.ingestion.IngestBatch(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"), req.Records, middleware.Actor(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
