package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/benvon/portal-identity/internal/autherr"
	"github.com/benvon/portal-identity/internal/metrics"
	"github.com/benvon/portal-identity/internal/token"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// BearerAuthenticator exchanges a signed assertion for a local token
type BearerAuthenticator interface {
	Authenticate(ctx context.Context, grantType, assertion string) (*token.Issued, error)
}

// TokenRequest is the body of the token endpoint
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	Assertion string `json:"assertion"`
}

// TokenResponse follows the OAuth2 access token response shape
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenHandler serves the JWT-Bearer grant
type TokenHandler struct {
	bearer  BearerAuthenticator
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewTokenHandler creates a token endpoint handler.
func NewTokenHandler(bearer BearerAuthenticator, m *metrics.Metrics, log *zap.Logger) *TokenHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenHandler{bearer: bearer, metrics: m, log: log}
}

// RegisterRoutes registers the token endpoint.
func (h *TokenHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/oauth2/token", h.Token).Methods(http.MethodPost)
}

// Token accepts grant_type and assertion as a form or as JSON.
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		respondError(w, h.log, err)
		return
	}

	issued, err := h.bearer.Authenticate(r.Context(), req.GrantType, req.Assertion)
	h.metrics.AuthResult(metrics.MethodJWTBearer, err)
	if err != nil {
		respondError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(issued.ExpiresIn.Seconds()),
	})
}

func parseTokenRequest(r *http.Request) (TokenRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req TokenRequest
		err := decodeJSON(r, &req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return TokenRequest{}, autherr.New(autherr.KindInvalidRequest, "invalid form body")
	}
	return TokenRequest{
		GrantType: r.PostForm.Get("grant_type"),
		Assertion: r.PostForm.Get("assertion"),
	}, nil
}
