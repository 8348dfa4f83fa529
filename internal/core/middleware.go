package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/types"
)

// statusRecorder remembers the first status written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush on the wrapped writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Status is 200 when the handler wrote nothing.
func (sr *statusRecorder) Status() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// Recoverer answers a panicking handler with a JSON 500 and logs the stack.
// It must be the outermost middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			s.Logger.ErrorContext(r.Context(), "handler panicked",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(rvr),
				"stack", string(debug.Stack()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
				"an unexpected error occurred", fmt.Errorf("panic: %v", rvr)))
		}()
		next.ServeHTTP(w, r)
	})
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger writes one access-log line per request. Headers named in
// redact (any case) are logged as [REDACTED].
func RequestLogger(logger *slog.Logger, redact []string) func(http.Handler) http.Handler {
	hidden := make(map[string]bool, len(redact))
	for _, h := range redact {
		hidden[http.CanonicalHeaderKey(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(sr, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int("status", sr.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if id := types.GetRequestID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if len(r.Header) > 0 {
				headers := make([]slog.Attr, 0, len(r.Header))
				for name, values := range r.Header {
					v := strings.Join(values, ", ")
					if hidden[http.CanonicalHeaderKey(name)] {
						v = "[REDACTED]"
					}
					headers = append(headers, slog.String(name, v))
				}
				attrs = append(attrs, slog.Attr{Key: "headers", Value: slog.GroupValue(headers...)})
			}

			logger.LogAttrs(r.Context(), levelForStatus(sr.Status()), "request completed", attrs...)
		})
	}
}

// MetricsMiddleware records latency and status per chi route pattern, so
// race and checkpoint IDs do not become metric dimensions. Without a
// collector it does nothing.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		s.Metrics.RecordRequest(r.Method, endpoint, sr.Status(), time.Since(start))
	})
}

// NewCORSMiddleware lets the listed origins read the API, "*" meaning any.
// The API is read-only, so only GET and preflight OPTIONS are allowed.
func NewCORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch {
			case allowed["*"]:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			default:
				origin = ""
			}
			if origin != "" || allowed["*"] {
				h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				h.Set("Access-Control-Expose-Headers", "X-Request-Id, X-Forecast-Stale")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
