package blogapi

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type infoLogger interface {
	Info(msg string, args ...any)
}

type logData struct {
	responseStatus int
	responseSize   int
}

type logWriter struct {
	http.ResponseWriter
	data logData
}

func (w *logWriter) Write(p []byte) (int, error) {
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.data.responseStatus = statusCode
}

func LoggerMiddleware(l infoLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{
				ResponseWriter: w,
				data:           logData{responseStatus: http.StatusOK, responseSize: 0},
			}

			next.ServeHTTP(lw, r)

			l.Info(
				"got HTTP request",
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(start),
				"status", lw.data.responseStatus,
				"size", lw.data.responseSize,
			)
		})
	}
}

type ctxKey struct{}

func newContextWithClaims(ctx context.Context, claims AccessTokenClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (AccessTokenClaims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(AccessTokenClaims)
	return claims, ok
}

type accessParser interface {
	ParseAccess(access string) (AccessTokenClaims, error)
}

// AuthMiddleware lets through requests with valid bearer token only
func AuthMiddleware(p accessParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				Error(w, "authorization header is not provided", http.StatusUnauthorized)
				return
			}

			fields := strings.Fields(header)
			if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
				Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := p.ParseAccess(fields[1])
			if err != nil {
				Error(w, "access token is invalid", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(newContextWithClaims(r.Context(), claims)))
		})
	}
}

// AdminOnly rejects tokens issued to site users
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.Admin {
			Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}
