package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/credential"
	"bankrecon/internal/shared/middleware"
)

// MockConnectionService implements ConnectionService for testing
type MockConnectionService struct {
	SubmitCredentialsFunc func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error)
	GetFunc               func(ctx context.Context, tenantID, id string) (*connection.Connection, error)
	ListFunc              func(ctx context.Context, tenantID string) ([]*connection.Connection, error)
	RequestTransitionFunc func(ctx context.Context, req connection.TransitionRequest) (*connection.Connection, error)
	ActivateFunc          func(ctx context.Context, tenantID, id, actor string) (*connection.Connection, error)
}

func (m *MockConnectionService) SubmitCredentials(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error) {
	if m.SubmitCredentialsFunc != nil {
		return m.SubmitCredentialsFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockConnectionService) Get(ctx context.Context, tenantID, id string) (*connection.Connection, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tenantID, id)
	}
	return nil, connection.ErrConnectionNotFound
}

func (m *MockConnectionService) List(ctx context.Context, tenantID string) ([]*connection.Connection, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, tenantID)
	}
	return nil, nil
}

func (m *MockConnectionService) RequestTransition(ctx context.Context, req connection.TransitionRequest) (*connection.Connection, error) {
	if m.RequestTransitionFunc != nil {
		return m.RequestTransitionFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockConnectionService) Activate(ctx context.Context, tenantID, id, actor string) (*connection.Connection, error) {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, tenantID, id, actor)
	}
	return nil, nil
}

// authed attaches the tenant and actor the Auth middleware would set.
func authed(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.TenantIDKey, "tenant-1")
	ctx = context.WithValue(ctx, middleware.ActorKey, "user@tenant-1")
	return req.WithContext(ctx)
}

func sampleConnection(status connection.Status) *connection.Connection {
	return &connection.Connection{
		ID:            "conn-1",
		TenantID:      "tenant-1",
		InstitutionID: "GARANTI",
		AccountID:     "TR330006100519786457841326",
		Status:        status,
		Version:       3,
		Credentials: credential.Bundle{
			Fields: map[string]string{"iban": "TR330006100519786457841326", "password": "ciphertext"},
			Sealed: []string{"password"},
		},
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHandleCreate(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		submit         func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error)
		expectedStatus int
		expectedError  string
	}{
		{
			name: "Success",
			body: `{"institutionId":"GARANTI","fields":{"iban":"TR33 0006 1005 1978 6457 8413 26","password":"s3cret"}}`,
			submit: func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error) {
				if params.TenantID != "tenant-1" || params.Actor != "user@tenant-1" {
					t.Errorf("unexpected scope %q/%q", params.TenantID, params.Actor)
				}
				return sampleConnection(connection.StatusDraft), nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "Missing fields",
			body: `{"institutionId":"GARANTI","fields":{"iban":"TR33"}}`,
			submit: func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error) {
				return nil, &credential.ValidationError{InstitutionID: "GARANTI", MissingFields: []string{"password"}}
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "validation_failed",
		},
		{
			name: "Duplicate account",
			body: `{"institutionId":"GARANTI","fields":{}}`,
			submit: func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error) {
				return nil, connection.ErrConnectionExists
			},
			expectedStatus: http.StatusConflict,
			expectedError:  "connection_exists",
		},
		{
			name:           "Malformed body",
			body:           `{"institutionId":`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid_body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewConnectionHandler(&MockConnectionService{SubmitCredentialsFunc: tt.submit})
			req := authed(httptest.NewRequest(http.MethodPost, "/api/connections", bytes.NewBufferString(tt.body)))
			rr := httptest.NewRecorder()

			h.HandleCreate(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedError != "" {
				var resp ErrorResponse
				decodeBody(t, rr, &resp)
				if resp.Error != tt.expectedError {
					t.Errorf("expected error %q, got %q", tt.expectedError, resp.Error)
				}
			}
		})
	}
}

func TestHandleCreate_ValidationDetail(t *testing.T) {
	h := NewConnectionHandler(&MockConnectionService{
		SubmitCredentialsFunc: func(ctx context.Context, params connection.SubmitParams) (*connection.Connection, error) {
			return nil, &credential.ValidationError{
				InstitutionID: "GARANTI",
				MissingFields: []string{"customerNumber", "password"},
				InvalidFields: map[string]string{"iban": "must be a valid IBAN"},
			}
		},
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/api/connections", bytes.NewBufferString(`{"institutionId":"GARANTI"}`)))
	rr := httptest.NewRecorder()

	h.HandleCreate(rr, req)

	var body map[string]any
	decodeBody(t, rr, &body)
	missing, _ := body["missingFields"].([]any)
	if len(missing) != 2 || missing[0] != "customerNumber" || missing[1] != "password" {
		t.Errorf("missingFields = %v", body["missingFields"])
	}
	invalid, _ := body["invalidFields"].(map[string]any)
	if invalid["iban"] == nil {
		t.Errorf("invalidFields = %v", body["invalidFields"])
	}
}

func TestHandleGet_MasksSecrets(t *testing.T) {
	h := NewConnectionHandler(&MockConnectionService{
		GetFunc: func(ctx context.Context, tenantID, id string) (*connection.Connection, error) {
			if tenantID != "tenant-1" || id != "conn-1" {
				return nil, connection.ErrConnectionNotFound
			}
			return sampleConnection(connection.StatusActive), nil
		},
	})
	req := authed(httptest.NewRequest(http.MethodGet, "/api/connections/conn-1", nil))
	req.SetPathValue("id", "conn-1")
	rr := httptest.NewRecorder()

	h.HandleGet(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	creds := body["credentials"].(map[string]any)
	if creds["password"] != "********" {
		t.Errorf("password leaked: %v", creds["password"])
	}
	if creds["iban"] != "TR330006100519786457841326" {
		t.Errorf("iban = %v", creds["iban"])
	}
	if body["status"] != "ACTIVE" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	h := NewConnectionHandler(&MockConnectionService{})
	req := authed(httptest.NewRequest(http.MethodGet, "/api/connections/missing", nil))
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()

	h.HandleGet(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := NewConnectionHandler(&MockConnectionService{})
	req := authed(httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	rr := httptest.NewRecorder()

	h.HandleList(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := bytes.TrimSpace(rr.Body.Bytes()); string(got) != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

func TestHandleTransition(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		result         func(req connection.TransitionRequest) (*connection.Connection, error)
		expectedStatus int
		check          func(t *testing.T, body map[string]any)
	}{
		{
			name: "Legal",
			body: `{"expectedStatus":"active","targetStatus":"DISABLED","reason":"closed account"}`,
			result: func(req connection.TransitionRequest) (*connection.Connection, error) {
				if req.Expected != connection.StatusActive || req.Target != connection.StatusDisabled {
					t.Errorf("unexpected request %+v", req)
				}
				if req.TenantID != "tenant-1" || req.ConnectionID != "conn-1" {
					t.Errorf("unexpected scope %+v", req)
				}
				return sampleConnection(connection.StatusDisabled), nil
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["status"] != "DISABLED" {
					t.Errorf("status = %v", body["status"])
				}
			},
		},
		{
			name: "Illegal",
			body: `{"expectedStatus":"DRAFT","targetStatus":"ACTIVE"}`,
			result: func(req connection.TransitionRequest) (*connection.Connection, error) {
				return nil, &connection.IllegalTransitionError{From: req.Expected, To: req.Target}
			},
			expectedStatus: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "illegal_transition" {
					t.Errorf("error = %v", body["error"])
				}
				allowed, _ := body["allowed"].([]any)
				if len(allowed) != 1 || allowed[0] != "PENDING_ACTIVATION" {
					t.Errorf("allowed = %v", body["allowed"])
				}
			},
		},
		{
			name: "Stale",
			body: `{"expectedStatus":"ACTIVE","targetStatus":"ERROR"}`,
			result: func(req connection.TransitionRequest) (*connection.Connection, error) {
				return nil, &connection.StaleStateError{ConnectionID: "conn-1", Expected: connection.StatusActive, Actual: connection.StatusError}
			},
			expectedStatus: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				if body["error"] != "stale_state" || body["actual"] != "ERROR" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:           "Unknown status",
			body:           `{"expectedStatus":"ACTIVE","targetStatus":"PAUSED"}`,
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockConnectionService{}
			if tt.result != nil {
				svc.RequestTransitionFunc = func(ctx context.Context, req connection.TransitionRequest) (*connection.Connection, error) {
					return tt.result(req)
				}
			}
			h := NewConnectionHandler(svc)
			req := authed(httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/transitions", bytes.NewBufferString(tt.body)))
			req.SetPathValue("id", "conn-1")
			rr := httptest.NewRecorder()

			h.HandleTransition(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.check != nil {
				var body map[string]any
				decodeBody(t, rr, &body)
				tt.check(t, body)
			}
		})
	}
}

func TestHandleActivate_VerificationFailureIsOK(t *testing.T) {
	h := NewConnectionHandler(&MockConnectionService{
		ActivateFunc: func(ctx context.Context, tenantID, id, actor string) (*connection.Connection, error) {
			c := sampleConnection(connection.StatusError)
			c.LastErrorCode = connection.ErrorCodeAuthFailed
			return c, nil
		},
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/activate", nil))
	req.SetPathValue("id", "conn-1")
	rr := httptest.NewRecorder()

	h.HandleActivate(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["status"] != "ERROR" || body["lastErrorCode"] != "AUTH_FAILED" {
		t.Errorf("body = %v", body)
	}
}
