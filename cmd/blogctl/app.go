package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/db"
	"github.com/nkiryanov/authgateway/internal/gateway"
	"github.com/nkiryanov/authgateway/internal/logger"
	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/repository"
	"github.com/nkiryanov/authgateway/internal/repository/filestore"
	"github.com/nkiryanov/authgateway/internal/repository/memory"
	"github.com/nkiryanov/authgateway/internal/repository/postgres"
	"github.com/nkiryanov/authgateway/internal/repository/redis"
	"github.com/nkiryanov/authgateway/internal/service/session"
	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

const redisKeyPrefix = "blogctl:"

var errUsage = errors.New("usage: blogctl [flags] login|register|logout|whoami|status|get|delete|post|put|patch|download [args]")

// App is a wired gateway: session storage, coordinator and client
type App struct {
	apiURL string

	logger      logger.Logger
	store       *tokenstore.Store
	httpClient  *http.Client
	coordinator *gateway.Coordinator
	client      *gateway.Client
	session     *session.Service

	closers []func()
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, err
	}

	profile, err := session.ProfileByName(c.Profile)
	if err != nil {
		return nil, err
	}

	app := &App{apiURL: c.APIURL, logger: l}

	repo, err := app.openRepo(ctx, c)
	if err != nil {
		app.Close()
		return nil, err
	}

	store, err := tokenstore.Open(ctx, repo, profile.Namespace, tokenstore.WithLogger(l))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("can't open session store: %w", err)
	}

	notifier := gateway.LogNotifier{Logger: l}
	httpClient := &http.Client{
		Timeout:   c.RequestTimeout,
		Transport: &gateway.LoggingTransport{Base: http.DefaultTransport, Logger: l},
	}

	renewer := gateway.NewHTTPRenewer(c.APIURL, profile.RenewPath, httpClient)
	coordinator := gateway.NewCoordinator(
		gateway.CoordinatorConfig{NearExpiry: c.NearExpiry, RenewTimeout: c.RenewTimeout},
		renewer, store, notifier, l,
	)
	client := gateway.NewClient(
		c.APIURL,
		coordinator,
		gateway.WithHTTPClient(httpClient),
		gateway.WithNotifier(notifier),
		gateway.WithLogger(l),
	)

	app.store = store
	app.httpClient = httpClient
	app.coordinator = coordinator
	app.client = client
	app.session = session.NewService(profile, client, store, session.WithNotifier(notifier), session.WithLogger(l))

	return app, nil
}

func (app *App) openRepo(ctx context.Context, c *Config) (repository.KVRepo, error) {
	switch c.Store {
	case StoreMemory:
		return memory.NewEntryRepo(), nil

	case StoreFile:
		path, err := c.sessionFile()
		if err != nil {
			return nil, err
		}
		return filestore.NewEntryRepo(path), nil

	case StoreRedis:
		if c.RedisAddr == "" {
			return nil, errors.New("redis address is not set")
		}
		client := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("can't connect to redis: %w", err)
		}
		return redis.NewEntryRepo(client, redisKeyPrefix), nil

	case StorePostgres:
		if c.DatabaseDSN == "" {
			return nil, errors.New("database connection string is not set")
		}
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pool.Close)
		return postgres.NewStorage(pool).Entries(), nil

	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// Close releases store connections
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

// Run executes the command and writes its result to out
func (app *App) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	command, args := args[0], args[1:]

	switch command {
	case "login":
		if len(args) != 2 {
			return errors.New("usage: blogctl login <username> <password>")
		}
		s, err := app.session.Login(ctx, models.Credentials{Username: args[0], Password: args[1]})
		if err != nil {
			return err
		}
		return writeJSON(out, statusOf(s, true))

	case "register":
		if len(args) != 4 {
			return errors.New("usage: blogctl register <username> <full_name> <email> <password>")
		}
		s, err := app.session.Register(ctx, models.RegisterDetails{
			Username: args[0],
			FullName: args[1],
			Email:    args[2],
			Password: args[3],
		})
		if err != nil {
			return err
		}
		return writeJSON(out, statusOf(s, true))

	case "logout":
		if err := app.session.Logout(ctx); err != nil {
			return err
		}
		return writeJSON(out, statusOf(models.Session{}, false))

	case "whoami":
		principal, err := app.session.FetchPrincipal(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, principal)

	case "status":
		return writeJSON(out, statusOf(app.session.Session(), app.session.IsAuthenticated()))

	case "get", "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: blogctl %s <path>", command)
		}
		var (
			resp *gateway.Response
			err  error
		)
		if command == "get" {
			resp, err = app.client.Get(ctx, args[0], gateway.Options{})
		} else {
			resp, err = app.client.Delete(ctx, args[0], gateway.Options{})
		}
		if err != nil {
			return err
		}
		return writeBody(out, resp)

	case "post", "put", "patch":
		if len(args) != 2 {
			return fmt.Errorf("usage: blogctl %s <path> <json>", command)
		}
		payload := json.RawMessage(args[1])
		if !json.Valid(payload) {
			return errors.New("payload is not a valid JSON")
		}

		var (
			resp *gateway.Response
			err  error
		)
		switch command {
		case "post":
			resp, err = app.client.Post(ctx, args[0], payload, gateway.Options{})
		case "put":
			resp, err = app.client.Put(ctx, args[0], payload, gateway.Options{})
		default:
			resp, err = app.client.Patch(ctx, args[0], payload, gateway.Options{})
		}
		if err != nil {
			return err
		}
		return writeBody(out, resp)

	case "download":
		if len(args) != 2 {
			return errors.New("usage: blogctl download <path> <file>")
		}
		return app.download(ctx, args[0], args[1], out)

	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
}

type downloadResult struct {
	File  string `json:"file"`
	Bytes int64  `json:"bytes"`
}

// download streams response body to the file
// Body is not buffered, so the bearer comes from oauth2 transport instead of gateway client
func (app *App) download(ctx context.Context, path, file string, out io.Writer) error {
	hc := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, app.httpClient),
		app.coordinator.TokenSource(ctx),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &apperrors.APIError{StatusCode: resp.StatusCode, Message: gateway.StatusMessage(resp.StatusCode, body)}
	}

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	return writeJSON(out, downloadResult{File: file, Bytes: n})
}

type sessionStatus struct {
	Authenticated    bool              `json:"authenticated"`
	Principal        *models.Principal `json:"principal,omitempty"`
	AccessExpiresAt  *time.Time        `json:"access_expires_at,omitempty"`
	RefreshExpiresAt *time.Time        `json:"refresh_expires_at,omitempty"`
}

// Tokens themselves are never printed
func statusOf(s models.Session, authenticated bool) sessionStatus {
	status := sessionStatus{Authenticated: authenticated}
	if !s.Principal.IsZero() {
		status.Principal = &s.Principal
	}
	if s.Access.Value != "" {
		status.AccessExpiresAt = &s.Access.ExpiresAt
	}
	if s.Refresh.Value != "" {
		status.RefreshExpiresAt = &s.Refresh.ExpiresAt
	}
	return status
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeBody(out io.Writer, resp *gateway.Response) error {
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := out.Write(resp.Body); err != nil {
		return err
	}
	_, err := io.WriteString(out, "\n")
	return err
}
