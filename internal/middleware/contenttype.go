package middleware

import (
	"mime"
	"net/http"
	"strings"
)

var allowedBodyTypes = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
}

// ContentType requires a JSON or form body on POST, PUT and PATCH requests
// that carry one.
func ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			respondErrorJSON(w, r, http.StatusBadRequest, "INVALID_REQUEST", "Content-Type header is required", nil)
			return
		}

		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !allowedBodyTypes[strings.ToLower(mediaType)] {
			respondErrorJSON(w, r, http.StatusUnsupportedMediaType, "INVALID_REQUEST", "Content-Type must be application/json or application/x-www-form-urlencoded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
