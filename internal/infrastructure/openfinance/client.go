package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"bankrecon/internal/domain/connection"
	"bankrecon/internal/domain/ingestion"
	"bankrecon/internal/domain/transaction"
)

const (
	defaultTimeout = 60 * time.Second
	verifyPath     = "/connections/verify"
	statementsPath = "/statements"
	maxBodyBytes   = 10 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond caps requests per institution. Zero disables limiting.
	RatePerSecond float64
	Burst         int
	PageSize      int
}

// Client talks to the statement gateway that fronts bank integrations.
// Responses are untrusted: records may repeat across pages and runs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	rate       rate.Limit
	burst      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var (
	_ ingestion.Provider  = (*Client)(nil)
	_ connection.Verifier = (*Client)(nil)
)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		pageSize:   opts.PageSize,
		rate:       limit,
		burst:      opts.Burst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus exposes the status code to error classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type requestBody struct {
	InstitutionID string            `json:"institutionId"`
	AccountID     string            `json:"accountId"`
	Credentials   map[string]string `json:"credentials"`
	Cursor        string            `json:"cursor,omitempty"`
	PageSize      int               `json:"pageSize,omitempty"`
}

// StatementResponse is one page of statement lines.
type StatementResponse struct {
	Success    bool        `json:"success"`
	Data       []Statement `json:"data"`
	NextCursor string      `json:"nextCursor"`
	Timestamp  string      `json:"timestamp"`
}

// Statement is a statement line as the gateway sends it.
type Statement struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	CurrencyCode string `json:"currency_code"`
	Amount       string `json:"amount"` // sent as text in bank-local format
	Date         string `json:"date"`
	Type         string `json:"type"` // "DEBIT" or "CREDIT"
	Reference    string `json:"reference"`
}

// RawRecord converts the line without interpreting any field.
func (s Statement) RawRecord() transaction.RawRecord {
	return transaction.RawRecord{
		ProviderID:  s.ID,
		Amount:      s.Amount,
		Currency:    s.CurrencyCode,
		Description: s.Description,
		ValueDate:   s.Date,
		Reference:   s.Reference,
		Direction:   transaction.Direction(strings.ToUpper(strings.TrimSpace(s.Type))),
	}
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Verify checks credentials with the institution without pulling data.
func (c *Client) Verify(ctx context.Context, conn *connection.Connection, credentials map[string]string) error {
	var resp verifyResponse
	err := c.post(ctx, conn.InstitutionID, verifyPath, requestBody{
		InstitutionID: conn.InstitutionID,
		AccountID:     conn.AccountID,
		Credentials:   credentials,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return &APIError{StatusCode: http.StatusUnauthorized, Code: "verification_failed", Message: resp.Message}
	}
	return nil
}

// FetchPage pulls one statement page starting at cursor.
func (c *Client) FetchPage(ctx context.Context, conn *connection.Connection, credentials map[string]string, cursor string) (*ingestion.Page, error) {
	var resp StatementResponse
	err := c.post(ctx, conn.InstitutionID, statementsPath, requestBody{
		InstitutionID: conn.InstitutionID,
		AccountID:     conn.AccountID,
		Credentials:   credentials,
		Cursor:        cursor,
		PageSize:      c.pageSize,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("gateway returned success=false")
	}
	if resp.NextCursor != "" && resp.NextCursor == cursor {
		return nil, fmt.Errorf("gateway returned a non-advancing cursor %q: format mismatch", cursor)
	}

	page := &ingestion.Page{
		Records:    make([]transaction.RawRecord, len(resp.Data)),
		NextCursor: resp.NextCursor,
	}
	for i, s := range resp.Data {
		page.Records[i] = s.RawRecord()
	}
	return page, nil
}

func (c *Client) limiter(institutionID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[institutionID]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[institutionID] = l
	}
	return l
}

func (c *Client) post(ctx context.Context, institutionID, path string, body requestBody, out any) error {
	if err := c.limiter(institutionID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		}
		return &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("response parsing failed: %w", err)
	}
	return nil
}
