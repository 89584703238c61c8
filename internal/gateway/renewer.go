package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/models"
)

// Renewer exchanges refresh token for new access token
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (models.IssuedToken, error)
}

type renewRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type renewResponse struct {
	AccessToken          string     `json:"access_token"`
	AccessTokenExpiresAt *time.Time `json:"access_token_expires_at"`
}

// HTTPRenewer renews access token with the API renew endpoint
// Renewal must not go through the gateway itself
type HTTPRenewer struct {
	BaseURL   string
	RenewPath string

	client *http.Client
}

func NewHTTPRenewer(baseURL, renewPath string, client *http.Client) *HTTPRenewer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRenewer{BaseURL: baseURL, RenewPath: renewPath, client: client}
}

func (r *HTTPRenewer) Renew(ctx context.Context, refreshToken string) (models.IssuedToken, error) {
	var token models.IssuedToken

	body, err := json.Marshal(renewRequest{RefreshToken: refreshToken})
	if err != nil {
		return token, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+r.RenewPath, bytes.NewReader(body))
	if err != nil {
		return token, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return token, &apperrors.APIError{Message: networkErrorMessage, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return token, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return token, &apperrors.APIError{StatusCode: resp.StatusCode, Message: StatusMessage(resp.StatusCode, data)}
	}

	var renewed renewResponse
	if err := json.Unmarshal(data, &renewed); err != nil {
		return token, fmt.Errorf("failed to decode response: %w", err)
	}
	if renewed.AccessToken == "" {
		return token, fmt.Errorf("no access token in renew response")
	}

	token.Value = renewed.AccessToken
	if renewed.AccessTokenExpiresAt != nil {
		token.ExpiresAt = *renewed.AccessTokenExpiresAt
		return token, nil
	}

	token.ExpiresAt, err = expiryFromClaims(renewed.AccessToken)
	if err != nil {
		return models.IssuedToken{}, err
	}
	return token, nil
}

// Read 'exp' claim. Signature is not verified
func expiryFromClaims(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("no access token expiry in renew response: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("no access token expiry in renew response")
	}
	return claims.ExpiresAt.Time, nil
}
