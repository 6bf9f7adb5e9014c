package http

import (
	"context"
	"net/http"

	"bankrecon/internal/domain/connection"
	"bankrecon/internal/shared/middleware"
)

// ConnectionService is the lifecycle surface the handlers drive.
type ConnectionService interface {
	SubmitCredentials(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error)
	Get(ctx context.Context, tenantID, id string) (*connection.Connection, error)
	List(ctx context.Context, tenantID string) ([]*connection.Connection, error)
	RequestTransition(ctx context.Context, req connection.TransitionRequest) (*connection.Connection, error)
	Activate(ctx context.Context, tenantID, id, actor string) (*connection.Connection, error)
}

type ConnectionHandler struct {
	connections ConnectionService
}

func NewConnectionHandler(connections ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

// Request/Response DTOs

type SubmitCredentialsRequest struct {
	InstitutionID string            `json:"institutionId"`
	Fields        map[string]string `json:"fields"`
}

type TransitionRequest struct {
	ExpectedStatus string `json:"expectedStatus"`
	TargetStatus   string `json:"targetStatus"`
	Reason         string `json:"reason,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// ConnectionResponse exposes a connection with its secret values masked.
type ConnectionResponse struct {
	*connection.Connection
	Credentials map[string]string `json:"credentials"`
}

func toConnectionResponse(c *connection.Connection) ConnectionResponse {
	return ConnectionResponse{Connection: c, Credentials: c.Credentials.Redacted()}
}

// HandleCreate stores a DRAFT connection from a credential submission.
func (h *ConnectionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req SubmitCredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Fields == nil {
		req.Fields = map[string]string{}
	}

	c, err := h.connections.SubmitCredentials(r.Context(), connection.SubmitParams{
		TenantID:      middleware.TenantID(r.Context()),
		InstitutionID: req.InstitutionID,
		Fields:        req.Fields,
		Actor:         middleware.Actor(r.Context()),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionResponse(c))
}

func (h *ConnectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.List(r.Context(), middleware.TenantID(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	response := make([]ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		response = append(response, toConnectionResponse(c))
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.connections.Get(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(c))
}

// HandleTransition applies one explicit status change. The caller states the
// status it believes current; a mismatch is a 409 stale_state.
func (h *ConnectionHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	expected, err := connection.ParseStatus(req.ExpectedStatus)
	if err != nil {
		renderError(w, r, err)
		return
	}
	target, err := connection.ParseStatus(req.TargetStatus)
	if err != nil {
		renderError(w, r, err)
		return
	}

	c, err := h.connections.RequestTransition(r.Context(), connection.TransitionRequest{
		ConnectionID: r.PathValue("id"),
		TenantID:     middleware.TenantID(r.Context()),
		Expected:     expected,
		Target:       target,
		Actor:        middleware.Actor(r.Context()),
		Reason:       req.Reason,
		ErrorCode:    connection.ErrorCode(req.ErrorCode),
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(c))
}

// HandleActivate verifies credentials. A failed verification is a 200 with
// the connection in ERROR.
func (h *ConnectionHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	c, err := h.connections.Activate(r.Context(), middleware.TenantID(r.Context()), r.PathValue("id"), middleware.Actor(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(c))
}
