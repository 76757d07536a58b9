package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware allows any origin with credentials; the canvas and its embeds
// are served from several hosts.
func CORSMiddleware(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	})(next)
}
