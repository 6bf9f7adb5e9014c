package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	allowed := []string{"api.recon.example", "  Ops.Recon.Example:8443 ", "[::1]:8080", "fe80::1%lo0"}

	tests := []struct {
		host string
		want bool
	}{
		{"api.recon.example", true},
		{"API.recon.example:443", true},
		{"ops.recon.example", true},
		{"  ops.recon.example:80  ", true},
		{"[::1]:9000", true},
		{"::1", true},
		{"[fe80::1%lo0]:8080", true},
		{"recon.example", false},
		{"evil.recon.example.attacker", false},
		{"[::2]:8080", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsHostAllowed(tt.host, allowed); got != tt.want {
				t.Errorf("IsHostAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}

	if !IsHostAllowed("anything.test", nil) {
		t.Error("an empty list allows every host")
	}
}

func TestRequireHTTPS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireHTTPS([]string{"api.example.com"})(next)

	tests := []struct {
		name       string
		host       string
		proto      string
		wantStatus int
		wantLoc    string
	}{
		{"redirects allowed host", "api.example.com", "", http.StatusMovedPermanently, "https://api.example.com/api/connections"},
		{"refuses foreign host", "evil.com", "", http.StatusBadRequest, ""},
		{"passes forwarded https", "api.example.com", "https", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
			req.Host = tt.host
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Location"); got != tt.wantLoc {
				t.Errorf("Location = %q, want %q", got, tt.wantLoc)
			}
		})
	}
}

func TestHSTS(t *testing.T) {
	rr := httptest.NewRecorder()
	HSTS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected Strict-Transport-Security header")
	}
}
