package middleware

import (
	"net/http"
	"strings"

	"github.com/benvon/portal-identity/internal/request"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const defaultFrontendOrigin = "http://localhost:3000"

// ParseOrigins splits a comma-separated origin list, dropping blanks and
// duplicates. An empty list yields the local frontend origin.
func ParseOrigins(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		if origin != "" && !seen[origin] {
			seen[origin] = true
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		out = []string{defaultFrontendOrigin}
	}
	return out
}

// CORS allows credentialed requests from the portal frontends.
func CORS(frontendURL string, logger *zap.Logger) func(http.Handler) http.Handler {
	origins := ParseOrigins(frontendURL)
	logger.Info("cors_configured", zap.Strings("allowed_origins", origins))

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		MaxAge:           86400,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", request.PortalHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler
}
