package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"bankrecon/internal/domain/audit"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/credential"
	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/domain/matching"
	"bankrecon/internal/domain/transaction"
	"bankrecon/internal/shared/logger"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`

	MissingFields []string          `json:"missingFields,omitempty"`
	InvalidFields map[string]string `json:"invalidFields,omitempty"`

	From    connection.Status   `json:"from,omitempty"`
	To      connection.Status   `json:"to,omitempty"`
	Allowed []connection.Status `json:"allowed,omitempty"`

	Expected connection.Status `json:"expected,omitempty"`
	Actual   connection.Status `json:"actual,omitempty"`

	Status            connection.Status    `json:"status,omitempty"`
	ErrorCode         connection.ErrorCode `json:"errorCode,omitempty"`
	RetryAfterSeconds int                  `json:"retryAfterSeconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// renderError maps domain errors onto HTTP replies. Anything unrecognised is
// logged and reported as a 500 without detail.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *credential.ValidationError
		illegal    *connection.IllegalTransitionError
		stale      *connection.StaleStateError
		notActive  *ingestion.NotActiveError
		fault      *ingestion.ProviderFault
	)

	switch {
	case errors.As(err, &validation):
		missing := validation.MissingFields
		if missing == nil {
			missing = []string{}
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:         "validation_failed",
			Message:       err.Error(),
			MissingFields: missing,
			InvalidFields: validation.InvalidFields,
		})
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "illegal_transition",
			Message: err.Error(),
			From:    illegal.From,
			To:      illegal.To,
			Allowed: illegal.Allowed(),
		})
	case errors.As(err, &stale):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "stale_state",
			Message:  err.Error(),
			Expected: stale.Expected,
			Actual:   stale.Actual,
		})
	case errors.As(err, &notActive):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "not_active",
			Message: err.Error(),
			Status:  notActive.Status,
		})
	case errors.Is(err, ingestion.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", err.Error())
	case errors.As(err, &fault):
		secs := int(math.Ceil(fault.RetryAfter.Seconds()))
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:             "provider_fault",
			Message:           "the bank provider failed; retry later",
			ErrorCode:         fault.Code,
			RetryAfterSeconds: secs,
		})
	case errors.Is(err, connection.ErrConnectionExists):
		writeError(w, http.StatusConflict, "connection_exists", err.Error())
	case errors.Is(err, credential.ErrUnknownInstitution),
		errors.Is(err, connection.ErrMissingAccountID),
		errors.Is(err, connection.ErrUnknownStatus),
		errors.Is(err, matching.ErrInvalidRule):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, connection.ErrConnectionNotFound),
		errors.Is(err, transaction.ErrTransactionNotFound),
		errors.Is(err, matching.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, audit.ErrTenantRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	default:
		logger.FromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decodeJSON reads a bounded JSON body. It writes the 400 itself and
// reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return false
	}
	return true
}

const maxBodyBytes = 4 << 20
