// Package blogapi is an in-process imitation of the blog platform API
// It issues real JWT access tokens and keeps accounts in memory
package blogapi

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authgateway/internal/logger"
	"github.com/nkiryanov/authgateway/internal/models"
)

// Admin role allowed to manage roles
const SuperAdminRole int64 = 1

type Config struct {
	SecretKey  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock used for tokens. time.Now if not set
	Now func() time.Time

	Logger logger.Logger
}

type account struct {
	user           *models.User
	admin          *models.Admin
	hashedPassword string
}

type Server struct {
	tokens *TokenManager
	hasher BcryptHasher
	now    func() time.Time
	logger logger.Logger

	mu       sync.Mutex
	users    map[string]account
	admins   map[string]account
	nextID   int64
	articles []Article

	// Counters of calls, tests read them
	Renewals atomic.Int32
	Logouts  atomic.Int32
}

type Article struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.SecretKey == "" {
		cfg.SecretKey = "blogapi-secret"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	tokens, err := NewTokenManager(TokenConfig{
		SecretKey:  cfg.SecretKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		tokens: tokens,
		now:    cfg.Now,
		logger: cfg.Logger,
		users:  make(map[string]account),
		admins: make(map[string]account),
		nextID: 1,
		articles: []Article{
			{ID: 1, Title: "Hello, world", Author: "admin"},
		},
	}, nil
}

func (s *Server) Tokens() *TokenManager {
	return s.tokens
}

func (s *Server) AddAdmin(username, password string, roleID int64) (models.Admin, error) {
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return models.Admin{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[username]; ok {
		return models.Admin{}, fmt.Errorf("admin %s already exists", username)
	}
	admin := &models.Admin{ID: s.nextID, Username: username, IsActive: true, RoleID: roleID, CreatedAt: s.now().UTC()}
	s.nextID++
	s.admins[username] = account{admin: admin, hashedPassword: hashed}

	return *admin, nil
}

var errUserExists = errors.New("username already exists")

func (s *Server) AddUser(details models.RegisterDetails) (models.User, error) {
	hashed, err := s.hasher.Hash(details.Password)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[details.Username]; ok {
		return models.User{}, errUserExists
	}
	user := &models.User{
		ID:        uuid.New(),
		Username:  details.Username,
		FullName:  details.FullName,
		Email:     details.Email,
		CreatedAt: s.now().UTC(),
	}
	s.users[details.Username] = account{user: user, hashedPassword: hashed}

	return *user, nil
}

func (s *Server) Handler() http.Handler {
	withAuth := AuthMiddleware(s.tokens)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return withAuth(AdminOnly(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", s.register)
	mux.HandleFunc("POST /users/login", s.login(false))
	mux.HandleFunc("POST /tokens/renew_access", s.renewAccess(false))
	mux.Handle("GET /users/info", withAuth(http.HandlerFunc(s.info)))

	mux.HandleFunc("POST /admin/login", s.login(true))
	mux.HandleFunc("POST /admin/renew_access", s.renewAccess(true))
	mux.Handle("POST /admin/logout", adminOnly(s.logout))
	mux.Handle("GET /admin/info", adminOnly(s.info))
	mux.Handle("GET /admin/roles", adminOnly(s.roles))

	mux.Handle("GET /articles", withAuth(http.HandlerFunc(s.listArticles)))
	mux.Handle("POST /articles", withAuth(http.HandlerFunc(s.createArticle)))

	return chain(mux,
		LoggerMiddleware(s.logger),
	)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	details, err := BindAndValidate[models.RegisterDetails](w, r)
	if err != nil {
		return
	}

	user, err := s.AddUser(details)
	switch {
	case errors.Is(err, errUserExists):
		Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	JSON(w, user)
}

type loginResponse struct {
	SessionID             uuid.UUID     `json:"session_id"`
	AccessToken           string        `json:"access_token"`
	AccessTokenExpiresAt  time.Time     `json:"access_token_expires_at"`
	RefreshToken          string        `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time     `json:"refresh_token_expires_at"`
	User                  *models.User  `json:"user,omitempty"`
	Admin                 *models.Admin `json:"admin,omitempty"`
}

func (s *Server) login(admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credentials, err := BindAndValidate[models.Credentials](w, r)
		if err != nil {
			return
		}

		s.mu.Lock()
		accounts := s.users
		if admin {
			accounts = s.admins
		}
		acc, ok := accounts[credentials.Username]
		s.mu.Unlock()

		if !ok {
			Error(w, "user not found", http.StatusNotFound)
			return
		}
		if err := s.hasher.Compare(acc.hashedPassword, credentials.Password); err != nil {
			Error(w, "incorrect password", http.StatusUnauthorized)
			return
		}

		pair, err := s.tokens.GeneratePair(credentials.Username, admin)
		if err != nil {
			Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		JSON(w, loginResponse{
			SessionID:             uuid.New(),
			AccessToken:           pair.Access.Value,
			AccessTokenExpiresAt:  pair.Access.ExpiresAt,
			RefreshToken:          pair.Refresh.Value,
			RefreshTokenExpiresAt: pair.Refresh.ExpiresAt,
			User:                  acc.user,
			Admin:                 acc.admin,
		})
	}
}

func (s *Server) renewAccess(admin bool) http.HandlerFunc {
	type renewRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type renewResponse struct {
		AccessToken          string    `json:"access_token"`
		AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		s.Renewals.Add(1)

		data, err := BindAndValidate[renewRequest](w, r)
		if err != nil {
			return
		}

		access, err := s.tokens.RenewAccess(data.RefreshToken, admin)
		if err != nil {
			Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		JSON(w, renewResponse{AccessToken: access.Value, AccessTokenExpiresAt: access.ExpiresAt})
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.Logouts.Add(1)

	claims, _ := ClaimsFromContext(r.Context())
	s.tokens.Revoke(claims.Subject)

	JSON(w, map[string]string{"message": "logged out"})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	s.mu.Lock()
	accounts := s.users
	if claims.Admin {
		accounts = s.admins
	}
	acc, ok := accounts[claims.Subject]
	s.mu.Unlock()

	if !ok {
		Error(w, "user not found", http.StatusNotFound)
		return
	}

	JSON(w, models.Principal{User: acc.user, Admin: acc.admin})
}

func (s *Server) roles(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	s.mu.Lock()
	acc := s.admins[claims.Subject]
	s.mu.Unlock()

	if acc.admin == nil || acc.admin.RoleID != SuperAdminRole {
		Error(w, "no permission", http.StatusForbidden)
		return
	}

	JSON(w, []map[string]any{{"id": SuperAdminRole, "name": "super admin"}})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	articles := append([]Article(nil), s.articles...)
	s.mu.Unlock()

	JSON(w, articles)
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	type createRequest struct {
		Title string `json:"title" validate:"required"`
	}

	data, err := BindAndValidate[createRequest](w, r)
	if err != nil {
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	s.mu.Lock()
	article := Article{ID: int64(len(s.articles) + 1), Title: data.Title, Author: claims.Subject}
	s.articles = append(s.articles, article)
	s.mu.Unlock()

	jsonWithStatus(w, article, http.StatusCreated)
}
