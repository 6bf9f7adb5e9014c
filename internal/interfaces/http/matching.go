package http

import (
	"context"
	"net/http"
	"time"

	"bankrecon/internal/domain/matching"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/middleware"
)

// MatchingService covers rule management, per-transaction matches and reporting.
type MatchingService interface {
	ListRules(ctx context.Context, tenantID string) ([]*matching.Rule, error)
	CreateRule(ctx context.Context, tenantID, actor string, params matching.CreateRuleParams) (*matching.Rule, error)
	LearnRule(ctx context.Context, tenantID, actor string, params matching.LearnRuleParams) (*matching.Rule, error)
	DeactivateRule(ctx context.Context, tenantID, ruleID, actor string) error
	ListMatches(ctx context.Context, tenantID, transactionID string) ([]*matching.PaymentMatch, error)
	Reevaluate(ctx context.Context, tenantID, transactionID, actor string) ([]*matching.PaymentMatch, error)
	Summary(ctx context.Context, tenantID string, since time.Time) (*matching.Summary, error)
}

// DefaultSummaryWindow is used when the summary request names no start.
const DefaultSummaryWindow = 30 * 24 * time.Hour

type MatchingHandler struct {
	matching MatchingService
	clock    clock.Clock
}

func NewMatchingHandler(svc MatchingService, clk clock.Clock) *MatchingHandler {
	return &MatchingHandler{matching: svc, clock: clk}
}

func (h *MatchingHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.matching.ListRules(r.Context(), middleware.TenantID(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *MatchingHandler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var params matching.CreateRuleParams
	if !decodeJSON(w, r, &params) {
		return
	}
	rule, err := h.matching.CreateRule(r.Context(), middleware.TenantID(r.Context()), middleware.Actor(r.Context()), params)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// HandleLearnRule records a manual match decision as a rule.
func (h *MatchingHandler) HandleLearnRule(w http.ResponseWriter, r *http.Request) {
	var params matching.LearnRuleParams
	if !decodeJSON(w, r, &params) {
		return
	}
	rule, err := h.matching.LearnRule(r.Context(), middleware.TenantID(r.Context()), middleware.Actor(r.Context()), params)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// HandleDeleteRule deactivates a rule; the row is kept for past matches.
func (h *MatchingHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.matching.DeactivateRule(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"), middleware.Actor(r.Context())); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MatchingHandler) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matching.ListMatches(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// HandleEvaluate re-runs matching for a stored transaction.
func (h *MatchingHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matching.Reevaluate(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"), middleware.Actor(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	if matches == nil {
		matches = []*matching.PaymentMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// HandleSummary reports the confidence distribution. since accepts RFC 3339
// or a plain date.
func (h *MatchingHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	since := h.clock.Now().Add(-DefaultSummaryWindow)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t, err = time.Parse(time.DateOnly, s)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", "since must be RFC 3339 or YYYY-MM-DD")
			return
		}
		since = t
	}

	sum, err := h.matching.Summary(r.Context(), middleware.TenantID(r.Context()), since)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
