package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/benvon/portal-identity/internal/autherr"
	logpkg "github.com/benvon/portal-identity/internal/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxErrorMessageLength = 200

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondJSONError sends an error JSON response
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength] + "..."
	}

	response := map[string]any{
		"success":   false,
		"error":     errorType,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondError maps err to its kind's status and wire code. Internal causes
// are logged, never sent.
func respondError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := autherr.KindOf(err)
	if kind == autherr.KindInternal {
		log.Error("request_failed", zap.String("error", logpkg.SanitizeError(err)))
	}
	respondJSONError(w, autherr.StatusFor(kind), string(kind), autherr.PublicMessage(err))
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return autherr.New(autherr.KindInvalidRequest, "request body is required")
		case errors.As(err, &maxErr):
			return autherr.New(autherr.KindInvalidRequest, "request body too large")
		default:
			return autherr.New(autherr.KindInvalidRequest, "invalid JSON body")
		}
	}
	return nil
}

// identityKey reads the provider and subject of an identity route. The path
// subject may contain "/"; a subject the path cannot carry, such as one with
// "//", goes in the subject query parameter instead.
func identityKey(r *http.Request) (provider, subject string, err error) {
	vars := mux.Vars(r)
	subject = vars["subject"]
	if subject == "" {
		subject = r.URL.Query().Get("subject")
	}
	if subject == "" {
		return "", "", autherr.New(autherr.KindInvalidRequest, "subject is required")
	}
	return vars["provider"], subject, nil
}
