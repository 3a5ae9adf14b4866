package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	logpkg "github.com/benvon/portal-identity/internal/logger"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/services/oidc"
	"github.com/benvon/portal-identity/internal/state"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	loginSuccessPath = "/?login=success&fromCookie=true"
	loginFailPath    = "/?login=fail&msg="
	bindSuccessPath  = "/settings/account?bind=success"
)

// OIDCCallbackRoute names the callback route so it can get its own deadline.
const OIDCCallbackRoute = "oidc_callback"

// OIDCFlow runs the authorization-code login and binding flow
type OIDCFlow interface {
	ListProviders(ctx context.Context, portalID string) ([]oidc.ProviderInfo, error)
	BuildAuthorizationURL(ctx context.Context, req oidc.AuthorizeRequest) (string, error)
	HandleCallback(ctx context.Context, req oidc.CallbackRequest) (*oidc.CallbackResult, error)
}

// OIDCHandler serves the browser-facing OIDC endpoints
type OIDCHandler struct {
	flow         OIDCFlow
	frontendURL  string
	cookieSecure bool
	metrics      *metrics.Metrics
	log          *zap.Logger
}

// NewOIDCHandler creates an OIDC handler. Redirects after the callback go
// to frontendURL.
func NewOIDCHandler(flow OIDCFlow, frontendURL string, cookieSecure bool, m *metrics.Metrics, log *zap.Logger) *OIDCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OIDCHandler{
		flow:         flow,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		cookieSecure: cookieSecure,
		metrics:      m,
		log:          log,
	}
}

// RegisterRoutes registers the OIDC routes. The callback must be wrapped so
// that a logged-in caller is attached when present.
func (h *OIDCHandler) RegisterRoutes(r *mux.Router, callbackAuth func(http.Handler) http.Handler) {
	r.HandleFunc("/developers/oidc/providers", h.ListProviders).Methods(http.MethodGet)
	r.HandleFunc("/developers/oidc/authorize", h.Authorize).Methods(http.MethodGet)
	r.Handle("/developers/oidc/callback", callbackAuth(http.HandlerFunc(h.Callback))).
		Methods(http.MethodGet).Name(OIDCCallbackRoute)
}

// ListProviders returns the enabled providers of the portal for the login page.
func (h *OIDCHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.flow.ListProviders(r.Context(), request.PortalFromContext(r))
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, providers)
}

// Authorize redirects the browser to the identity provider.
func (h *OIDCHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := state.ParseFlowMode(q.Get("mode"))
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	provider := strings.TrimSpace(q.Get("provider"))
	if provider == "" {
		respondError(w, h.log, autherr.New(autherr.KindInvalidRequest, "provider is required"))
		return
	}

	target, err := h.flow.BuildAuthorizationURL(r.Context(), oidc.AuthorizeRequest{
		PortalID:  request.PortalFromContext(r),
		Provider:  provider,
		Mode:      mode,
		APIPrefix: q.Get("apiPrefix"),
		BaseURL:   request.BaseURL(r),
	})
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the flow. Logins set the session cookie; every outcome
// redirects back to the frontend.
func (h *OIDCHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" {
		h.log.Info("oidc_provider_returned_error", zap.String("error", logpkg.SanitizeString(idpErr, 100)))
		err := autherr.Newf(autherr.KindInvalidCredentials, "identity provider returned %s", idpErr)
		h.metrics.AuthResult(metrics.MethodOIDCLogin, err)
		h.redirect(w, r, loginFailPath+url.QueryEscape(string(autherr.KindInvalidCredentials)))
		return
	}

	// The IdP redirect carries no portal header; the signed state names the
	// portal unless the request names one explicitly.
	result, err := h.flow.HandleCallback(r.Context(), oidc.CallbackRequest{
		PortalID: request.ExplicitPortal(r),
		Code:     q.Get("code"),
		State:    q.Get("state"),
		BaseURL:  request.BaseURL(r),
		Caller:   request.PrincipalFromContext(r),
	})
	if err != nil {
		h.metrics.AuthResult(metrics.MethodOIDCLogin, err)
		h.redirect(w, r, loginFailPath+url.QueryEscape(string(autherr.KindOf(err))))
		return
	}

	if result.Mode == state.FlowBinding {
		h.metrics.AuthResult(metrics.MethodOIDCBind, nil)
		h.redirect(w, r, bindSuccessPath)
		return
	}

	h.metrics.AuthResult(metrics.MethodOIDCLogin, nil)
	setSessionCookie(w, result.Token, h.cookieSecure)
	h.redirect(w, r, loginSuccessPath)
}

func (h *OIDCHandler) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.frontendURL+path, http.StatusFound)
}

func setSessionCookie(w http.ResponseWriter, issued *token.Issued, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    issued.Token,
		Path:     "/",
		Expires:  issued.ExpiresAt,
		MaxAge:   int(issued.ExpiresIn.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
