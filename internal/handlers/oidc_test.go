package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/state"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func newOIDCRouter(flow *fakeFlow) *mux.Router {
	h := NewOIDCHandler(flow, "https://portal.example.com/", true, metrics.New(), zap.NewNop())
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(request.WithPortal(req.Context(), "portal-a")))
		})
	})
	h.RegisterRoutes(r, func(next http.Handler) http.Handler { return next })
	return r
}

func TestOIDCHandler_ListProviders(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newOIDCRouter(&fakeFlow{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/developers/oidc/providers", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Data []oidc.ProviderInfo `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Data[0].Provider != "google" {
		t.Errorf("providers = %+v", body.Data)
	}
}

func TestOIDCHandler_Authorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		flowErr    error
		wantStatus int
		wantMode   state.FlowMode
	}{
		{name: "login by default", query: "provider=google", wantStatus: http.StatusFound, wantMode: state.FlowLogin},
		{name: "binding", query: "provider=google&mode=binding&apiPrefix=/portal-api", wantStatus: http.StatusFound, wantMode: state.FlowBinding},
		{name: "unknown mode", query: "provider=google&mode=signup", wantStatus: http.StatusBadRequest},
		{name: "missing provider", query: "mode=LOGIN", wantStatus: http.StatusBadRequest},
		{
			name:       "disabled provider",
			query:      "provider=github",
			flowErr:    autherr.New(autherr.KindProviderDisabled, "provider github is not enabled"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flow := &fakeFlow{authorizeErr: tt.flowErr}
			w := httptest.NewRecorder()
			newOIDCRouter(flow).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/developers/oidc/authorize?"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusFound {
				return
			}
			if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://idp.example.com/") {
				t.Errorf("Location = %q", loc)
			}
			if flow.lastAuthorize.Mode != tt.wantMode || flow.lastAuthorize.PortalID != "portal-a" {
				t.Errorf("authorize request = %+v", flow.lastAuthorize)
			}
			if flow.lastAuthorize.BaseURL != "http://example.com" {
				t.Errorf("BaseURL = %q", flow.lastAuthorize.BaseURL)
			}
		})
	}
}

func TestOIDCHandler_Callback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        string
		result       *oidc.CallbackResult
		err          error
		wantLocation string
		wantCookie   bool
	}{
		{
			name:         "login sets cookie",
			query:        "code=c&state=s",
			result:       &oidc.CallbackResult{Mode: state.FlowLogin, DeveloperID: "dev-1", Token: testIssued("session-token")},
			wantLocation: "https://portal.example.com/?login=success&fromCookie=true",
			wantCookie:   true,
		},
		{
			name:         "binding",
			query:        "code=c&state=s",
			result:       &oidc.CallbackResult{Mode: state.FlowBinding, DeveloperID: "dev-1"},
			wantLocation: "https://portal.example.com/settings/account?bind=success",
		},
		{
			name:         "replayed state",
			query:        "code=c&state=s",
			err:          autherr.New(autherr.KindStateReplayed, "state already used"),
			wantLocation: "https://portal.example.com/?login=fail&msg=STATE_REPLAYED",
		},
		{
			name:         "provider error",
			query:        "error=access_denied&state=s",
			wantLocation: "https://portal.example.com/?login=fail&msg=INVALID_CREDENTIALS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flow := &fakeFlow{result: tt.result, callbackErr: tt.err}
			w := httptest.NewRecorder()
			newOIDCRouter(flow).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/developers/oidc/callback?"+tt.query, nil))

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != tt.wantLocation {
				t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
			}

			var session *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == token.CookieName {
					session = c
				}
			}
			if !tt.wantCookie {
				if session != nil {
					t.Errorf("Unexpected session cookie %+v", session)
				}
				return
			}
			if session == nil {
				t.Fatal("Expected session cookie")
			}
			if session.Value != "session-token" || !session.HttpOnly || !session.Secure || session.SameSite != http.SameSiteLaxMode {
				t.Errorf("cookie = %+v", session)
			}
		})
	}
}

func TestOIDCHandler_CallbackPassesCaller(t *testing.T) {
	t.Parallel()

	flow := &fakeFlow{result: &oidc.CallbackResult{Mode: state.FlowBinding}}
	h := NewOIDCHandler(flow, "https://portal.example.com", false, nil, nil)
	caller := &models.Principal{Type: models.PrincipalDeveloper, ID: "dev-1", PortalID: "portal-a"}

	q := url.Values{"code": {"c"}, "state": {"s"}}
	req := withCaller(httptest.NewRequest(http.MethodGet, "/developers/oidc/callback?"+q.Encode(), nil), caller)
	req.Header.Set(request.PortalHeader, "portal-a")
	h.Callback(httptest.NewRecorder(), req)

	if flow.lastCallback.Caller == nil || flow.lastCallback.Caller.ID != "dev-1" {
		t.Errorf("caller = %+v", flow.lastCallback.Caller)
	}
	if flow.lastCallback.Code != "c" || flow.lastCallback.State != "s" || flow.lastCallback.PortalID != "portal-a" {
		t.Errorf("callback request = %+v", flow.lastCallback)
	}
}
