package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxSignedBodySize caps how much request body is buffered for signature
// verification, matching the handler-side request limit.
const maxSignedBodySize = 1 << 20

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// ClaimsFromContext returns the validated token claims stored by the
// Bearer middleware, or nil when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}

// Bearer returns middleware that requires a valid "Authorization: Bearer"
// access token. Validated claims are stored on the request context.
func Bearer(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := ValidateToken(token, secret)
			if err != nil {
				logger.Warn("rejected bearer token", "error", err, "path", r.URL.Path)
				writeUnauthorized(w, "invalid access token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestSignature returns middleware that verifies the X-Signature and
// X-Timestamp headers against the request body. Intended for mutating
// routes; the body is restored for downstream handlers.
func RequestSignature(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBodySize))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := VerifyRequestSignature(secret, r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"), body); err != nil {
				logger.Warn("rejected request signature", "error", err, "path", r.URL.Path)
				writeUnauthorized(w, "invalid request signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	io.WriteString(w, `{"error":"`+msg+`"}`)
}
