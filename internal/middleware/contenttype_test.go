package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		want        int
	}{
		{"GET passes", http.MethodGet, "", "", http.StatusOK},
		{"json", http.MethodPost, "application/json", `{}`, http.StatusOK},
		{"json with charset", http.MethodPut, "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"form", http.MethodPost, "application/x-www-form-urlencoded", "grant_type=x", http.StatusOK},
		{"empty POST", http.MethodPost, "", "", http.StatusOK},
		{"body without type", http.MethodPost, "", `{}`, http.StatusBadRequest},
		{"xml", http.MethodPost, "application/xml", "<a/>", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/api/v1/oauth2/token", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			ContentType(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMaxRequestSize(t *testing.T) {
	t.Parallel()

	h := MaxRequestSize(8)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{"http://localhost:3000"}},
		{"https://a.example.com/, https://b.example.com,https://a.example.com", []string{"https://a.example.com", "https://b.example.com"}},
		{" , ", []string{"http://localhost:3000"}},
	}
	for _, tt := range tests {
		got := ParseOrigins(tt.raw)
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("ParseOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	SecurityHeaders(true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("Expected Cache-Control: no-store")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}
}
