package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/helix-sec/crucible/internal/auth"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey int

const producerCtxKey contextKey = iota

// producerFromContext extracts the authenticated producer from the request
// context.
func producerFromContext(ctx context.Context) *auth.ProducerContext {
	v, _ := ctx.Value(producerCtxKey).(*auth.ProducerContext)
	return v
}

// authMiddleware validates the x-api-key header and injects the producer
// into the request context. Caching lives inside the Authenticator.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		producer, err := d.Auth.Authenticate(r.Context(), r.Header.Get("x-api-key"))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrAuthUnavailable):
				d.Logger.Warn("auth backend unavailable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Auth backend unavailable"})
			case errors.Is(err, auth.ErrMissingAPIKey):
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Missing x-api-key header"})
			default:
				writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid API key"})
			}
			return
		}

		ctx := context.WithValue(r.Context(), producerCtxKey, producer)
		next(w, r.WithContext(ctx))
	}
}

// --- JSON helpers ---

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// --- Request logging ---

func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// --- CORS ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "x-api-key, Content-Type, Content-Encoding")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
