package handlers

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Guards are the optional protections placed in front of the API routes. Zero values disable them.
type Guards struct {
	// MaxBodyBytes bounds the request body size.
	MaxBodyBytes int64
	// Limiter, when set, rate limits requests per client IP.
	Limiter Limiter
	// JWTSecret, when set, requires an HS256 bearer token.
	JWTSecret string
}

func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func (m Main) rateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RemoteAddr has already been rewritten by the RealIP middleware.
			key := r.RemoteAddr
			if host, _, err := net.SplitHostPort(key); err == nil {
				key = host
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Limiter errors fail open.
				m.logger.Error("Rate limiter failed", slog.String(errLoggerKey, err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				m.logger.Warn("Rate limited", slog.String("client", key))
				http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m Main) jwtAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				http.Error(w, "Missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil {
				m.logger.Warn("Rejected bearer token", slog.String(errLoggerKey, err.Error()))
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
