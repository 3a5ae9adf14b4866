package handlers

import (
	"net/http"
	"strings"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/request"
	"github.com/benvon/portal-identity/internal/services/account"
	"github.com/benvon/portal-identity/internal/services/identity"
	"github.com/benvon/portal-identity/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AdminBindRequest attaches an external identity to a developer
type AdminBindRequest struct {
	Provider    string `json:"provider" validate:"required,max=64"`
	Subject     string `json:"subject" validate:"required,max=255"`
	DisplayName string `json:"display_name,omitempty" validate:"max=255"`
	Email       string `json:"email,omitempty" validate:"omitempty,email,max=255"`
}

// AdminHandler serves administrator bootstrap, session and developer
// management endpoints
type AdminHandler struct {
	accounts   AccountService
	identities IdentityService
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(accounts AccountService, identities IdentityService, m *metrics.Metrics, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{accounts: accounts, identities: identities, metrics: m, log: log}
}

// RegisterPublicRoutes registers bootstrap and login.
func (h *AdminHandler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/admins/need-init", h.NeedInit).Methods(http.MethodGet)
	r.HandleFunc("/admins/init", h.Init).Methods(http.MethodPost)
	r.HandleFunc("/admins/login", h.Login).Methods(http.MethodPost)
}

// RegisterRoutes registers routes that need an authenticated administrator.
func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/admins/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/admins/password", h.ChangePassword).Methods(http.MethodPut)
	r.HandleFunc("/admins/developers/{id}", h.DeleteDeveloper).Methods(http.MethodDelete)
	r.HandleFunc("/admins/developers/{id}/identities", h.BindIdentity).Methods(http.MethodPost)
	r.HandleFunc("/admins/developers/{id}/identities/{provider}/{subject:.+}", h.UnbindIdentity).Methods(http.MethodDelete)
	r.HandleFunc("/admins/developers/{id}/identities/{provider}", h.UnbindIdentity).Methods(http.MethodDelete)
}

// NeedInit reports whether the portal still needs its first administrator.
func (h *AdminHandler) NeedInit(w http.ResponseWriter, r *http.Request) {
	need, err := h.accounts.AdminNeedsInit(r.Context(), request.PortalFromContext(r))
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"need_init": need})
}

// Init creates the first administrator of the portal.
func (h *AdminHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	admin, err := h.accounts.InitAdmin(r.Context(), request.PortalFromContext(r), req)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, admin)
}

// Login checks an administrator password and returns a token.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	issued, err := h.accounts.LoginAdmin(r.Context(), request.PortalFromContext(r), req)
	h.metrics.AuthResult(metrics.MethodAdminPassword, err)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, newLoginResponse(issued))
}

// Logout revokes the presented token.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), request.TokenFromContext(r)); err != nil {
		respondError(w, h.log, err)
		return
	}
	h.metrics.TokenRevoked()
	respondJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// ChangePassword sets a new password for the calling administrator.
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req account.ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	if err := h.accounts.ChangeAdminPassword(r.Context(), request.PrincipalFromContext(r).ID, req); err != nil {
		respondError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDeveloper removes a developer of the administrator's portal.
func (h *AdminHandler) DeleteDeveloper(w http.ResponseWriter, r *http.Request) {
	developerID, ok := h.portalDeveloper(w, r)
	if !ok {
		return
	}
	if err := h.identities.DeleteAccount(r.Context(), developerID); err != nil {
		respondError(w, h.log, err)
		return
	}
	h.log.Info("admin_deleted_developer",
		zap.String("admin_id", request.PrincipalFromContext(r).ID),
		zap.String("developer_id", developerID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// BindIdentity attaches an external identity to a developer.
func (h *AdminHandler) BindIdentity(w http.ResponseWriter, r *http.Request) {
	developerID, ok := h.portalDeveloper(w, r)
	if !ok {
		return
	}
	var req AdminBindRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, h.log, err)
		return
	}
	req.Provider = strings.TrimSpace(req.Provider)
	req.Subject = strings.TrimSpace(req.Subject)
	if err := validation.Struct(req); err != nil {
		respondError(w, h.log, err)
		return
	}

	err := h.identities.Bind(r.Context(), developerID, identity.ExternalProfile{
		PortalID:    request.PrincipalFromContext(r).PortalID,
		Provider:    req.Provider,
		Subject:     req.Subject,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	})
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnbindIdentity removes an external identity from a developer.
func (h *AdminHandler) UnbindIdentity(w http.ResponseWriter, r *http.Request) {
	developerID, ok := h.portalDeveloper(w, r)
	if !ok {
		return
	}
	provider, subject, err := identityKey(r)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if err := h.identities.Unbind(r.Context(), developerID, provider, subject); err != nil {
		respondError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// portalDeveloper resolves the {id} path variable to a developer of the
// administrator's own portal. Developers of other portals read as missing.
func (h *AdminHandler) portalDeveloper(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	dev, err := h.accounts.Developer(r.Context(), id)
	if err != nil {
		respondError(w, h.log, err)
		return "", false
	}
	if dev.PortalID != request.PrincipalFromContext(r).PortalID {
		respondError(w, h.log, autherr.New(autherr.KindNotFound, "developer not found"))
		return "", false
	}
	return dev.ID, true
}
