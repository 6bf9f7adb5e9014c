package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/shared/middleware"
)

type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) (*audit.Page, error)
}

type AuditHandler struct {
	audit AuditQuerier
}

func NewAuditHandler(q AuditQuerier) *AuditHandler {
	return &AuditHandler{audit: q}
}

// HandleQuery returns one page of the tenant's audit trail, newest first.
// action may repeat or be comma separated; since and until are RFC 3339.
func (h *AuditHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		TenantID:     middleware.TenantID(r.Context()),
		ConnectionID: q.Get("connectionId"),
	}

	for _, v := range q["action"] {
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.Actions = append(f.Actions, audit.Action(strings.ToUpper(a)))
			}
		}
	}

	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "since must be RFC 3339")
		return
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "until must be RFC 3339")
		return
	}
	if f.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
		return
	}
	if f.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "offset must be a non-negative integer")
		return
	}

	page, err := h.audit.Query(r.Context(), f)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
