package core

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"weatherbingo/internal/types"
)

// APIPrefix is the mount point of every versioned route.
const APIPrefix = "/api/v1"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the global middleware chain and all /api/v1 routes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()
	s.router.Route(APIPrefix, s.mountV1)
}

// registerGlobalMiddleware applies middleware in order:
//  1. Recoverer       - outermost so every panic becomes a JSON 500.
//  2. RequestID       - correlation ID for logs and error envelopes.
//  3. RequestLogger   - structured access log with redacted headers.
//  4. CORS            - browser access from the frontend.
//  5. Metrics         - request latency and count.
//  6. Compression     - gzip for JSON bodies.
//
// Requests carry no deadline of their own. Upstream calls are bounded by the
// yr client's timeout, and a stale fallback must still be able to reach the
// database after one expires.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(CompressionMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	r.Get("/health", s.HandleHealth)
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

// RequestIDMiddleware propagates X-Request-Id or generates a UUID when absent.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CompressionMiddleware gzips responses when the client accepts it.
func CompressionMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
