package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var appCORSOrigins = []string{
	"http://localhost:3000",      // local dev
	"https://app.leaflab.io",     // production front-end
	"https://staging.leaflab.io", // staging front-end
}

// AppCORS returns middleware that applies the browser-facing origin policy.
func AppCORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   appCORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}

// WebhookCORS is deliberately permissive. The subtree receives provider
// callbacks, not browser traffic, and must never reject on origin.
func WebhookCORS() func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}).Handler
}
