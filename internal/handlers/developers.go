package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/models"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/services/account"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AccountService manages password accounts and sessions
type AccountService interface {
	RegisterDeveloper(ctx context.Context, portalID string, req account.RegisterRequest) (*models.Developer, error)
	LoginDeveloper(ctx context.Context, portalID string, req account.LoginRequest) (*token.Issued, error)
	ChangeDeveloperPassword(ctx context.Context, developerID string, req account.ChangePasswordRequest) error
	Developer(ctx context.Context, developerID string) (*models.Developer, error)
	AdminNeedsInit(ctx context.Context, portalID string) (bool, error)
	InitAdmin(ctx context.Context, portalID string, req account.RegisterRequest) (*models.Administrator, error)
	LoginAdmin(ctx context.Context, portalID string, req account.LoginRequest) (*token.Issued, error)
	ChangeAdminPassword(ctx context.Context, adminID string, req account.ChangePasswordRequest) error
	Logout(ctx context.Context, tokenString string) error
}

// IdentityService manages external identities bound to developers
type IdentityService interface {
	Bind(ctx context.Context, developerID string, p identity.ExternalProfile) error
	Unbind(ctx context.Context, developerID, provider, subject string) error
	DeleteAccount(ctx context.Context, developerID string) error
	ListIdentities(ctx context.Context, developerID string) ([]*models.ExternalIdentity, error)
}

// LoginResponse carries a freshly issued token
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
	ExpiresIn int64  `json:"expires_in"`
}

func newLoginResponse(issued *token.Issued) LoginResponse {
	return LoginResponse{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresAt: issued.ExpiresAt.UTC().Format(time.RFC3339),
		ExpiresIn: int64(issued.ExpiresIn.Seconds()),
	}
}

// DeveloperHandler serves developer self-service endpoints
type DeveloperHandler struct {
	accounts     AccountService
	identities   IdentityService
	cookieSecure bool
	metrics      *metrics.Metrics
	log          *zap.Logger
}

// NewDeveloperHandler creates a developer handler.
func NewDeveloperHandler(accounts AccountService, identities IdentityService, cookieSecure bool, m *metrics.Metrics, log *zap.Logger) *DeveloperHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeveloperHandler{
		accounts:     accounts,
		identities:   identities,
		cookieSecure: cookieSecure,
		metrics:      m,
		log:          log,
	}
}

// RegisterPublicRoutes registers the anonymous developer routes.
func (h *DeveloperHandler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/developers/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/developers/login", h.Login).Methods(http.MethodPost)
}

// RegisterRoutes registers routes that need an authenticated developer.
func (h *DeveloperHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/developers/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/developers/me", h.Me).Methods(http.MethodGet)
	r.HandleFunc("/developers/me", h.DeleteMe).Methods(http.MethodDelete)
	r.HandleFunc("/developers/identities", h.ListIdentities).Methods(http.MethodGet)
	r.HandleFunc("/developers/identities/{provider}/{subject:.+}", h.Unbind).Methods(http.MethodDelete)
	r.HandleFunc("/developers/identities/{provider}", h.Unbind).Methods(http.MethodDelete)
	r.HandleFunc("/developers/password", h.ChangePassword).Methods(http.MethodPut)
}

// Register creates a password developer in the request's portal.
func (h *DeveloperHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	dev, err := h.accounts.RegisterDeveloper(r.Context(), request.PortalFromContext(r), req)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, dev)
}

// Login checks a developer password and returns a token.
func (h *DeveloperHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	issued, err := h.accounts.LoginDeveloper(r.Context(), request.PortalFromContext(r), req)
	h.metrics.AuthResult(metrics.MethodDeveloperPassword, err)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newLoginResponse(issued))
}

// Logout revokes the presented token and clears the session cookie.
func (h *DeveloperHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), request.TokenFromContext(r)); err != nil {
		respondError(w, h.log, err)
		return
	}
	h.metrics.TokenRevoked()
	clearSessionCookie(w, h.cookieSecure)
	respondJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// Me returns the calling developer.
func (h *DeveloperHandler) Me(w http.ResponseWriter, r *http.Request) {
	dev, err := h.accounts.Developer(r.Context(), request.PrincipalFromContext(r).ID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, dev)
}

// DeleteMe deletes the calling developer and ends the session.
func (h *DeveloperHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.identities.DeleteAccount(r.Context(), request.PrincipalFromContext(r).ID); err != nil {
		respondError(w, h.log, err)
		return
	}
	if err := h.accounts.Logout(r.Context(), request.TokenFromContext(r)); err != nil {
		h.log.Warn("failed_to_revoke_token_of_deleted_developer", zap.String("kind", string(autherr.KindOf(err))))
	}
	clearSessionCookie(w, h.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// ListIdentities returns the external identities of the calling developer.
func (h *DeveloperHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.identities.ListIdentities(r.Context(), request.PrincipalFromContext(r).ID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, identities)
}

// Unbind removes one identity from the calling developer.
func (h *DeveloperHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	provider, subject, err := identityKey(r)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if err := h.identities.Unbind(r.Context(), request.PrincipalFromContext(r).ID, provider, subject); err != nil {
		respondError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword sets a new password for the calling developer.
func (h *DeveloperHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req account.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	if err := h.accounts.ChangeDeveloperPassword(r.Context(), request.PrincipalFromContext(r).ID, req); err != nil {
		respondError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
