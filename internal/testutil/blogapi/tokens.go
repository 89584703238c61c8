package blogapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/authgateway/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

// Token manager with sensible default
type TokenConfig struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

type refreshToken struct {
	username  string
	admin     bool
	expiresAt time.Time
}

type TokenManager struct {
	key        string
	alg        jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]refreshToken
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		refresh:    make(map[string]refreshToken),
	}, nil
}

func (m *TokenManager) GeneratePair(username string, admin bool) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := m.generateAccess(username, admin)
	if err != nil {
		return pair, err
	}

	// Generate random refresh token 16 bytes length
	b := make([]byte, 16)
	_, err = rand.Read(b)
	if err != nil {
		return pair, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh := models.IssuedToken{
		Value:     hex.EncodeToString(b),
		ExpiresAt: m.now().Truncate(time.Second).Add(m.refreshTTL),
	}

	m.mu.Lock()
	m.refresh[refresh.Value] = refreshToken{username: username, admin: admin, expiresAt: refresh.ExpiresAt}
	m.mu.Unlock()

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// RenewAccess issues new access token for the refresh token
// Refresh token stays valid until it expires or revoked
func (m *TokenManager) RenewAccess(refresh string, admin bool) (models.IssuedToken, error) {
	m.mu.Lock()
	token, ok := m.refresh[refresh]
	m.mu.Unlock()

	switch {
	case !ok || token.admin != admin:
		return models.IssuedToken{}, ErrRefreshTokenNotFound
	case !m.now().Before(token.expiresAt):
		return models.IssuedToken{}, ErrRefreshTokenExpired
	}

	return m.generateAccess(token.username, token.admin)
}

// Revoke all refresh tokens of the user
func (m *TokenManager) Revoke(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for value, token := range m.refresh {
		if token.username == username {
			delete(m.refresh, value)
		}
	}
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (AccessTokenClaims, error) {
	claims := AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		&claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return claims, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	return claims, nil
}

func (m *TokenManager) generateAccess(username string, admin bool) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   username,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Admin: admin,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}
