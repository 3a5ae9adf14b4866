package request

import (
	"context"
	"crypto/tls"
	"net/http/httptest"
	"testing"

	"github.com/benvon/portal-identity/internal/models"
)

func TestClientIP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		wantIP  string
	}{
		{"x-forwarded-for", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "", "1.2.3.4"},
		{"x-forwarded-for first", map[string]string{"X-Forwarded-For": " 1.2.3.4 , 5.6.7.8 "}, "", "1.2.3.4"},
		{"x-real-ip", map[string]string{"X-Real-IP": "9.9.9.9"}, "", "9.9.9.9"},
		{"remote addr", nil, "10.0.0.1:12345", "10.0.0.1:12345"},
		{"xff over xri", map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "9.9.9.9"}, "", "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if tt.remote != "" {
				r.RemoteAddr = tt.remote
			}
			got := ClientIP(r)
			if got != tt.wantIP {
				t.Errorf("ClientIP() = %q, want %q", got, tt.wantIP)
			}
		})
	}
}

func TestPrincipalFromContext(t *testing.T) {
	t.Parallel()
	p := &models.Principal{Type: models.PrincipalDeveloper, ID: "dev-1"}
	ctx := WithPrincipal(context.Background(), p, "tok")
	r := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	if got := PrincipalFromContext(r); got != p {
		t.Errorf("PrincipalFromContext() = %p, want %p", got, p)
	}
	if got := TokenFromContext(r); got != "tok" {
		t.Errorf("TokenFromContext() = %q, want tok", got)
	}
}

func TestPrincipalFromContext_NoPrincipal(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	if got := PrincipalFromContext(r); got != nil {
		t.Errorf("PrincipalFromContext() = %+v, want nil", got)
	}
	if got := TokenFromContext(r); got != "" {
		t.Errorf("TokenFromContext() = %q, want empty", got)
	}
}

func TestPrincipalFromContext_WrongType(t *testing.T) {
	t.Parallel()
	ctx := context.WithValue(context.Background(), PrincipalContextKey(), "not a principal")
	r := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	if got := PrincipalFromContext(r); got != nil {
		t.Errorf("PrincipalFromContext() = %+v, want nil when wrong type", got)
	}
}

func TestPortal(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(PortalHeader, " portal-7 ")
	if got := ExplicitPortal(r); got != "portal-7" {
		t.Errorf("ExplicitPortal() = %q", got)
	}
	r = r.WithContext(WithPortal(r.Context(), "portal-7"))
	if got := PortalFromContext(r); got != "portal-7" {
		t.Errorf("PortalFromContext() = %q", got)
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		host    string
		tls     bool
		headers map[string]string
		want    string
	}{
		{"plain http", "portal.example.com", false, nil, "http://portal.example.com"},
		{"http default port dropped", "portal.example.com:80", false, nil, "http://portal.example.com"},
		{"https default port dropped", "portal.example.com:443", true, nil, "https://portal.example.com"},
		{"custom port kept", "localhost:8080", false, nil, "http://localhost:8080"},
		{"forwarded", "internal:8080", false, map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "portal.example.com"}, "https://portal.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			r.Host = tt.host
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			} else {
				r.TLS = nil
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := BaseURL(r); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		host    string
		headers map[string]string
		want    string
	}{
		{"host", "Portal.Example.com:8080", nil, "portal.example.com"},
		{"origin wins", "api.example.com", map[string]string{"Origin": "https://dev.example.com:3000", "X-Forwarded-Host": "x.example.com"}, "dev.example.com"},
		{"null origin ignored", "api.example.com", map[string]string{"Origin": "null"}, "api.example.com"},
		{"forwarded host", "internal:8080", map[string]string{"X-Forwarded-Host": "dev.example.com, proxy.local"}, "dev.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/", nil)
			r.Host = tt.host
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := Domain(r); got != tt.want {
				t.Errorf("Domain() = %q, want %q", got, tt.want)
			}
		})
	}
}
