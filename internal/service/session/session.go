package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/gateway"
	"github.com/nkiryanov/authgateway/internal/logger"
	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/service/validate"
	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

var ErrRegistrationUnsupported = errors.New("registration is not supported")

// Login payload of the API
type loginResponse struct {
	AccessToken           string        `json:"access_token"`
	AccessTokenExpiresAt  time.Time     `json:"access_token_expires_at"`
	RefreshToken          string        `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time     `json:"refresh_token_expires_at"`
	User                  *models.User  `json:"user,omitempty"`
	Admin                 *models.Admin `json:"admin,omitempty"`
}

func (r loginResponse) session() models.Session {
	return models.Session{
		Access:    models.IssuedToken{Value: r.AccessToken, ExpiresAt: r.AccessTokenExpiresAt},
		Refresh:   models.IssuedToken{Value: r.RefreshToken, ExpiresAt: r.RefreshTokenExpiresAt},
		Principal: models.Principal{User: r.User, Admin: r.Admin},
	}
}

// Service creates and destroys sessions
type Service struct {
	profile  Profile
	client   *gateway.Client
	store    *tokenstore.Store
	notifier gateway.Notifier
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n gateway.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(profile Profile, client *gateway.Client, store *tokenstore.Store, opts ...Option) *Service {
	s := &Service{
		profile:  profile,
		client:   client,
		store:    store,
		notifier: gateway.NopNotifier{},
		logger:   logger.NewNoOpLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Profile() Profile {
	return s.profile
}

// Login exchanges credentials for a new session
// Any failure leaves no session behind
func (s *Service) Login(ctx context.Context, credentials models.Credentials) (models.Session, error) {
	session, err := s.login(ctx, credentials)
	if err != nil {
		s.clear(ctx)
		return models.Session{}, err
	}

	s.logger.Info("Logged in", "profile", s.profile.Name, "principal", session.Principal.Username())
	return session, nil
}

func (s *Service) login(ctx context.Context, credentials models.Credentials) (models.Session, error) {
	if err := validate.Struct(credentials); err != nil {
		return models.Session{}, err
	}

	resp, err := s.client.Post(ctx, s.profile.LoginPath, credentials, gateway.Options{SkipAuth: true})
	if err != nil {
		return models.Session{}, fmt.Errorf("login: %w", err)
	}

	var payload loginResponse
	if err := resp.DecodeJSON(&payload); err != nil {
		return models.Session{}, fmt.Errorf("login: %w", err)
	}

	session := payload.session()
	if session.Access.Value == "" || session.Refresh.Value == "" {
		return models.Session{}, fmt.Errorf("login: %w: no tokens in response", apperrors.ErrInvalidSession)
	}
	if err := session.Validate(); err != nil {
		return models.Session{}, fmt.Errorf("login: %w", err)
	}

	if err := s.store.Write(ctx, models.FullUpdate(session)); err != nil {
		return models.Session{}, fmt.Errorf("login: %w", err)
	}
	return session, nil
}

// Logout tells the API about logout and always drops the local session
// API failure is only logged; durable storage failure is returned
func (s *Service) Logout(ctx context.Context) error {
	token := s.store.Read().Access.Value

	if s.profile.LogoutPath != "" && token != "" {
		req := gateway.NewRequest(http.MethodPost, s.profile.LogoutPath, nil, gateway.Options{SkipAuth: true, SkipErrorHandler: true}).WithBearer(token)
		if _, err := s.client.Do(ctx, req); err != nil {
			s.logger.Warn("Failed to logout on server side", "error", err)
		}
	}

	err := s.store.Clear(ctx)
	s.notifier.SignedOut(nil)
	s.logger.Info("Logged out", "profile", s.profile.Name)

	return err
}

// Register creates the user and logs in with the same credentials
func (s *Service) Register(ctx context.Context, details models.RegisterDetails) (models.Session, error) {
	if s.profile.RegisterPath == "" {
		return models.Session{}, fmt.Errorf("%s: %w", s.profile.Name, ErrRegistrationUnsupported)
	}

	if err := validate.Struct(details); err != nil {
		s.clear(ctx)
		return models.Session{}, err
	}

	if _, err := s.client.Post(ctx, s.profile.RegisterPath, details, gateway.Options{SkipAuth: true}); err != nil {
		s.clear(ctx)
		return models.Session{}, fmt.Errorf("register: %w", err)
	}

	s.logger.Info("Registered", "profile", s.profile.Name, "username", details.Username)
	return s.Login(ctx, details.Credentials())
}

// FetchPrincipal loads the principal of the session from the API
// Failure drops the session
func (s *Service) FetchPrincipal(ctx context.Context) (models.Principal, error) {
	principal, err := s.fetchPrincipal(ctx)
	if err != nil {
		// fatal errors tore the session down already
		if !apperrors.IsSessionFatal(err) {
			s.clear(ctx)
			s.notifier.SignedOut(err)
		}
		return models.Principal{}, err
	}
	return principal, nil
}

func (s *Service) fetchPrincipal(ctx context.Context) (models.Principal, error) {
	var principal models.Principal

	resp, err := s.client.Get(ctx, s.profile.InfoPath, gateway.Options{})
	if err != nil {
		return principal, fmt.Errorf("fetch principal: %w", err)
	}
	if err := resp.DecodeJSON(&principal); err != nil {
		return principal, fmt.Errorf("fetch principal: %w", err)
	}
	if principal.IsZero() {
		return principal, fmt.Errorf("fetch principal: %w: empty principal", apperrors.ErrInvalidSession)
	}

	if err := s.store.Write(ctx, models.SessionUpdate{Principal: &principal}); err != nil {
		return principal, fmt.Errorf("fetch principal: %w", err)
	}
	return principal, nil
}

// Session returns the current session snapshot
func (s *Service) Session() models.Session {
	return s.store.Read()
}

// IsAuthenticated reports whether requests will be sent on behalf of somebody
// Access token may be expired while refresh token can still renew it
func (s *Service) IsAuthenticated() bool {
	session := s.store.Read()
	now := s.now()

	if session.Access.Value == "" {
		return false
	}
	return !session.Access.ExpiredAt(now) || !session.Refresh.ExpiredAt(now)
}

func (s *Service) clear(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Error("Failed to clear session", "error", err)
	}
}
