package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authgateway/internal/apperrors"
)

func TestHTTPRenewer(t *testing.T) {
	renewer := func(t *testing.T, h http.HandlerFunc) *HTTPRenewer {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		return NewHTTPRenewer(srv.URL, "/tokens/renew_access", srv.Client())
	}

	t.Run("renew ok", func(t *testing.T) {
		r := renewer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/tokens/renew_access", r.URL.Path)
			_, _ = w.Write([]byte(`{"access_token":"a2","access_token_expires_at":"2025-03-01T12:15:00Z"}`))
		})

		token, err := r.Renew(t.Context(), "r1")

		require.NoError(t, err)
		require.Equal(t, "a2", token.Value)
		require.Equal(t, epoch.Add(15*time.Minute), token.ExpiresAt.UTC())
	})

	t.Run("any 2xx status is success", func(t *testing.T) {
		r := renewer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"access_token":"a2","access_token_expires_at":"2025-03-01T12:15:00Z"}`))
		})

		token, err := r.Renew(t.Context(), "r1")

		require.NoError(t, err, "201 must not be treated as rejection")
		require.Equal(t, "a2", token.Value)
	})

	t.Run("expiry from jwt claims", func(t *testing.T) {
		expiresAt := epoch.Add(time.Hour)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		}).SignedString([]byte("some-key"))
		require.NoError(t, err)

		r := renewer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"` + signed + `"}`))
		})

		token, err := r.Renew(t.Context(), "r1")

		require.NoError(t, err)
		require.Equal(t, signed, token.Value)
		require.True(t, expiresAt.Equal(token.ExpiresAt))
	})

	t.Run("opaque token without expiry", func(t *testing.T) {
		r := renewer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"v2.local.opaque"}`))
		})

		_, err := r.Renew(t.Context(), "r1")

		require.Error(t, err)
		require.Contains(t, err.Error(), "no access token expiry")
	})

	t.Run("rejected", func(t *testing.T) {
		r := renewer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"refresh token is revoked"}`))
		})

		_, err := r.Renew(t.Context(), "r1")

		require.Equal(t, http.StatusUnauthorized, apperrors.StatusCode(err))
	})
}
