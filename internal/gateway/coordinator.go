package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/logger"
	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

const (
	DefaultNearExpiry   = 2 * time.Minute
	DefaultRenewTimeout = 5 * time.Second
)

// All renewals share one key: at most one renewal runs at a time
const renewKey = "renew"

type CoordinatorConfig struct {
	// Access token expiring within the window is renewed before use
	NearExpiry time.Duration

	// Time budget of a single renewal
	RenewTimeout time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.NearExpiry <= 0 {
		c.NearExpiry = DefaultNearExpiry
	}
	if c.RenewTimeout <= 0 {
		c.RenewTimeout = DefaultRenewTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Coordinator keeps access token fresh
// Concurrent renewals are collapsed into one call to the Renewer
type Coordinator struct {
	cfg      CoordinatorConfig
	renewer  Renewer
	store    *tokenstore.Store
	notifier Notifier
	logger   logger.Logger

	group singleflight.Group
}

func NewCoordinator(cfg CoordinatorConfig, renewer Renewer, store *tokenstore.Store, notifier Notifier, l logger.Logger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Coordinator{
		cfg:      cfg.withDefaults(),
		renewer:  renewer,
		store:    store,
		notifier: notifier,
		logger:   l,
	}
}

// EnsureFresh returns access token usable for the next request
// Empty token without error means there is no session at all
func (c *Coordinator) EnsureFresh(ctx context.Context) (string, error) {
	access, err := c.freshAccess(ctx)
	return access.Value, err
}

// freshAccess is EnsureFresh keeping the expiry of the returned token
func (c *Coordinator) freshAccess(ctx context.Context) (models.IssuedToken, error) {
	session := c.store.Read()

	if session.Access.Value == "" && session.Refresh.Value == "" {
		return models.IssuedToken{}, nil
	}
	if session.AccessFreshFor(c.cfg.Now(), c.cfg.NearExpiry) {
		return session.Access, nil
	}

	return c.renew(ctx, "")
}

// Refresh returns access token to replace the rejected one
// If the session already holds another usable token it is returned without renewal
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (string, error) {
	session := c.store.Read()

	if session.Access.Value != rejected && session.AccessFreshFor(c.cfg.Now(), 0) {
		return session.Access.Value, nil
	}

	access, err := c.renew(ctx, rejected)
	return access.Value, err
}

// Invalidate tears the session down if it still holds the rejected token
// Nothing happens when the session was changed already
func (c *Coordinator) Invalidate(ctx context.Context, rejected string, cause error) {
	c.teardown(ctx, cause, func(s models.Session) bool {
		return !s.IsZero() && s.Access.Value == rejected
	})
}

// Join running renewal or start new one
// Caller may give up waiting, the renewal keeps going
func (c *Coordinator) renew(ctx context.Context, rejected string) (models.IssuedToken, error) {
	ch := c.group.DoChan(renewKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RenewTimeout)
		defer cancel()

		return c.renewOnce(flightCtx, rejected)
	})

	select {
	case <-ctx.Done():
		return models.IssuedToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.IssuedToken{}, res.Err
		}
		return res.Val.(models.IssuedToken), nil
	}
}

func (c *Coordinator) renewOnce(ctx context.Context, rejected string) (models.IssuedToken, error) {
	now := c.cfg.Now()
	session := c.store.Read()

	// Renewed by previous flight while the caller was on its way here
	if session.Access.Value != rejected && session.AccessFreshFor(now, c.cfg.NearExpiry) {
		return session.Access, nil
	}

	// Teardown and the renewed token apply only to the session the flight started with
	refreshToken := session.Refresh.Value
	sameSession := func(s models.Session) bool {
		return !s.IsZero() && s.Refresh.Value == refreshToken
	}

	switch {
	case session.IsZero():
		return models.IssuedToken{}, apperrors.ErrNoRefreshToken
	case refreshToken == "":
		return models.IssuedToken{}, c.teardown(ctx, apperrors.ErrNoRefreshToken, sameSession)
	case session.Refresh.ExpiredAt(now):
		return models.IssuedToken{}, c.teardown(ctx, apperrors.ErrRefreshTokenExpired, sameSession)
	}

	start := time.Now()
	access, err := c.renewer.Renew(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrRefreshRejected, apperrors.ErrRefreshTimeout)
		} else {
			err = fmt.Errorf("%w: %w", apperrors.ErrRefreshRejected, err)
		}
		return models.IssuedToken{}, c.teardown(ctx, err, sameSession)
	}

	err = c.store.WriteIf(ctx, models.SessionUpdate{Access: &access}, sameSession)
	switch {
	case errors.Is(err, apperrors.ErrSessionChanged):
		return c.changedDuringRenewal()
	case errors.Is(err, apperrors.ErrInvalidSession):
		return models.IssuedToken{}, c.teardown(ctx, fmt.Errorf("%w: %w", apperrors.ErrRefreshRejected, err), sameSession)
	case err != nil:
		// Memory holds the new token, the request may go on
		c.logger.Warn("Failed to persist renewed access token", "error", err)
	}

	c.logger.Debug("Access token renewed", "duration", time.Since(start), "expires_at", access.ExpiresAt)
	return access, nil
}

// Session was logged out or replaced by login while renewal was running
// Renewed token is dropped
func (c *Coordinator) changedDuringRenewal() (models.IssuedToken, error) {
	session := c.store.Read()
	if session.AccessFreshFor(c.cfg.Now(), 0) {
		return session.Access, nil
	}

	c.logger.Info("Session changed during renewal, renewed token dropped")
	return models.IssuedToken{}, apperrors.ErrNoRefreshToken
}

// teardown clears the session if owns holds for it and notifies about sign out. Returns the cause
func (c *Coordinator) teardown(ctx context.Context, cause error, owns func(models.Session) bool) error {
	// Flight context may be expired already
	cleared, err := c.store.ClearIf(context.WithoutCancel(ctx), owns)
	if err != nil {
		c.logger.Error("Failed to clear session", "error", err)
	}
	if !cleared {
		return cause
	}

	c.logger.Warn("Session lost", "cause", cause)
	c.notifier.SignedOut(cause)
	return cause
}
