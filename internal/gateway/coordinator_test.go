package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/authgateway/internal/apperrors"
	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

func TestCoordinator_EnsureFresh(t *testing.T) {
	t.Run("no session is anonymous", func(t *testing.T) {
		store, _ := newStore(t, models.Session{})
		renewer := renewTo("a2", time.Hour)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.EnsureFresh(t.Context())

		require.NoError(t, err)
		require.Empty(t, token)
		require.Zero(t, renewer.calls.Load(), "nothing to renew without session")
	})

	t.Run("fresh token returned as is", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		renewer := renewTo("a2", time.Hour)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.EnsureFresh(t.Context())

		require.NoError(t, err)
		require.Equal(t, "a1", token)
		require.Zero(t, renewer.calls.Load())
	})

	t.Run("renewed inside near expiry window", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(90*time.Second))
		renewer := renewTo("a2", 15*time.Minute)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.EnsureFresh(t.Context())

		require.NoError(t, err)
		require.Equal(t, "a2", token)
		require.EqualValues(t, 1, renewer.calls.Load())
		require.Equal(t, "a2", store.Read().Access.Value, "renewed token must be stored")
		require.Equal(t, "r1", store.Read().Refresh.Value, "refresh token must stay")
	})

	t.Run("near expiry window is configurable", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(90*time.Second))
		renewer := renewTo("a2", 15*time.Minute)
		c := NewCoordinator(CoordinatorConfig{NearExpiry: time.Minute, Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.EnsureFresh(t.Context())

		require.NoError(t, err)
		require.Equal(t, "a1", token, "90s left is outside 1 minute window")
		require.Zero(t, renewer.calls.Load())
	})

	t.Run("single renewal for concurrent callers", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		release := make(chan struct{})
		renewer := &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
			<-release
			return models.IssuedToken{Value: "a2", ExpiresAt: epoch.Add(15 * time.Minute)}, nil
		}}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		const callers = 20
		tokens := make([]string, callers)
		g, ctx := errgroup.WithContext(t.Context())
		for i := range callers {
			g.Go(func() error {
				token, err := c.EnsureFresh(ctx)
				tokens[i] = token
				return err
			})
		}
		time.Sleep(50 * time.Millisecond)
		close(release)

		require.NoError(t, g.Wait())
		require.EqualValues(t, 1, renewer.calls.Load(), "renewal must happen once for all callers")
		for _, token := range tokens {
			require.Equal(t, "a2", token)
		}
	})

	t.Run("expired refresh token short circuits", func(t *testing.T) {
		session := sessionExpiringIn(time.Minute)
		session.Refresh.ExpiresAt = epoch.Add(-time.Second)
		store, repo := newStore(t, session)
		renewer := renewTo("a2", time.Hour)
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, notifier, nil)

		_, err := c.EnsureFresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
		require.Zero(t, renewer.calls.Load(), "no network call with expired refresh token")
		require.True(t, store.Read().IsZero(), "session must be torn down")
		require.Zero(t, repo.Len())
		require.Equal(t, 1, notifier.SignedOutCount())
	})

	t.Run("missing refresh token", func(t *testing.T) {
		session := sessionExpiringIn(time.Minute)
		session.Refresh = models.IssuedToken{}
		store, _ := newStore(t, session)
		renewer := renewTo("a2", time.Hour)
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, notifier, nil)

		_, err := c.EnsureFresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
		require.Zero(t, renewer.calls.Load())
		require.True(t, store.Read().IsZero())
		require.Equal(t, 1, notifier.SignedOutCount())
	})

	t.Run("failed renewal tears down once", func(t *testing.T) {
		store, repo := newStore(t, sessionExpiringIn(time.Minute))
		release := make(chan struct{})
		renewer := &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
			<-release
			return models.IssuedToken{}, &apperrors.APIError{StatusCode: 401, Message: "unauthorized access"}
		}}
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, notifier, nil)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.EnsureFresh(t.Context())
				errs <- err
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		close(errs)

		for err := range errs {
			require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
			require.True(t, apperrors.IsSessionFatal(err))
		}
		require.EqualValues(t, 1, renewer.calls.Load())
		require.Equal(t, 1, notifier.SignedOutCount(), "sign out must be notified once")
		require.True(t, store.Read().IsZero())
		require.Zero(t, repo.Len())
	})

	t.Run("renewal timeout", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		renewer := &stubRenewer{renew: func(ctx context.Context, _ string) (models.IssuedToken, error) {
			<-ctx.Done()
			return models.IssuedToken{}, ctx.Err()
		}}
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{RenewTimeout: 50 * time.Millisecond, Now: newClock().Now}, renewer, store, notifier, nil)

		_, err := c.EnsureFresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrRefreshTimeout)
		require.ErrorIs(t, err, apperrors.ErrRefreshRejected, "timeout counts as rejected renewal")
		require.True(t, store.Read().IsZero())
		require.Equal(t, 1, notifier.SignedOutCount())
	})

	t.Run("caller gives up but renewal completes", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		release := make(chan struct{})
		done := make(chan struct{})
		renewer := &stubRenewer{renew: func(ctx context.Context, _ string) (models.IssuedToken, error) {
			defer close(done)
			<-release
			return models.IssuedToken{Value: "a2", ExpiresAt: epoch.Add(15 * time.Minute)}, ctx.Err()
		}}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := c.EnsureFresh(ctx)
		require.ErrorIs(t, err, context.Canceled)

		close(release)
		<-done
		require.Eventually(t, func() bool { return store.Read().Access.Value == "a2" }, time.Second, 5*time.Millisecond,
			"renewal must not be canceled by the caller")
	})

	t.Run("renewed token without expiry is rejected", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		renewer := &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
			return models.IssuedToken{Value: "a2"}, nil
		}}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		_, err := c.EnsureFresh(t.Context())

		require.ErrorIs(t, err, apperrors.ErrRefreshRejected)
		require.ErrorIs(t, err, apperrors.ErrInvalidSession)
		require.True(t, store.Read().IsZero())
	})
}

func TestCoordinator_SessionChangedDuringRenewal(t *testing.T) {
	blockingRenewer := func() (*stubRenewer, chan struct{}, chan struct{}) {
		entered, release := make(chan struct{}), make(chan struct{})
		renewer := &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
			close(entered)
			<-release
			return models.IssuedToken{Value: "a2", ExpiresAt: epoch.Add(15 * time.Minute)}, nil
		}}
		return renewer, entered, release
	}

	t.Run("cleared session stays cleared", func(t *testing.T) {
		store, repo := newStore(t, sessionExpiringIn(time.Minute))
		renewer, entered, release := blockingRenewer()
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, notifier, nil)

		errs := make(chan error, 1)
		go func() {
			_, err := c.EnsureFresh(t.Context())
			errs <- err
		}()
		<-entered
		require.NoError(t, store.Clear(t.Context()))
		close(release)

		require.ErrorIs(t, <-errs, apperrors.ErrNoRefreshToken)
		require.True(t, store.Read().IsZero(), "renewed token must not bring the session back")
		require.Zero(t, repo.Len(), "nothing must be persisted after clear")
		require.Zero(t, notifier.SignedOutCount(), "session was not lost by renewal")

		reopened, err := tokenstore.Open(t.Context(), repo, tokenstore.AdminNamespace, tokenstore.WithNow(newClock().Now))
		require.NoError(t, err)
		require.True(t, reopened.Read().IsZero())
	})

	t.Run("new login wins over late renewal", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		renewer, entered, release := blockingRenewer()
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		tokens := make(chan string, 1)
		go func() {
			token, _ := c.EnsureFresh(t.Context())
			tokens <- token
		}()
		<-entered
		relogin := models.Session{
			Access:  models.IssuedToken{Value: "b1", ExpiresAt: epoch.Add(15 * time.Minute)},
			Refresh: models.IssuedToken{Value: "rb1", ExpiresAt: epoch.Add(24 * time.Hour)},
		}
		require.NoError(t, store.Write(t.Context(), models.FullUpdate(relogin)))
		close(release)

		require.Equal(t, "b1", <-tokens, "token of the new session must be used")
		require.Equal(t, relogin, store.Read())
	})

	t.Run("failed renewal keeps new login", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		entered, release := make(chan struct{}), make(chan struct{})
		renewer := &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
			close(entered)
			<-release
			return models.IssuedToken{}, &apperrors.APIError{StatusCode: 401}
		}}
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, notifier, nil)

		errs := make(chan error, 1)
		go func() {
			_, err := c.EnsureFresh(t.Context())
			errs <- err
		}()
		<-entered
		relogin := sessionExpiringIn(15 * time.Minute)
		relogin.Access.Value, relogin.Refresh.Value = "b1", "rb1"
		require.NoError(t, store.Write(t.Context(), models.FullUpdate(relogin)))
		close(release)

		require.ErrorIs(t, <-errs, apperrors.ErrRefreshRejected)
		require.Equal(t, "b1", store.Read().Access.Value, "teardown must not touch the new session")
		require.Zero(t, notifier.SignedOutCount())
	})
}

func TestCoordinator_Refresh(t *testing.T) {
	t.Run("renews rejected token even if not expired", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		renewer := renewTo("a2", 15*time.Minute)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.Refresh(t.Context(), "a1")

		require.NoError(t, err)
		require.Equal(t, "a2", token)
		require.EqualValues(t, 1, renewer.calls.Load())
	})

	t.Run("returns newer token without renewal", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		renewer := renewTo("a3", 15*time.Minute)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.Refresh(t.Context(), "a0")

		require.NoError(t, err)
		require.Equal(t, "a1", token, "stored token is already different from rejected one")
		require.Zero(t, renewer.calls.Load())
	})

	t.Run("renews when newer token is expired too", func(t *testing.T) {
		session := sessionExpiringIn(-time.Minute)
		store, _ := newStore(t, session)
		renewer := renewTo("a2", 15*time.Minute)
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewer, store, nil, nil)

		token, err := c.Refresh(t.Context(), "a0")

		require.NoError(t, err)
		require.Equal(t, "a2", token, "expired stored token must not be replayed")
		require.EqualValues(t, 1, renewer.calls.Load())
	})

	t.Run("no session", func(t *testing.T) {
		store, _ := newStore(t, models.Session{})
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, notifier, nil)

		_, err := c.Refresh(t.Context(), "")

		require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
		require.Zero(t, notifier.SignedOutCount(), "nothing to sign out from")
	})
}

func TestCoordinator_Invalidate(t *testing.T) {
	t.Run("tears down session with rejected token", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, notifier, nil)

		c.Invalidate(t.Context(), "a1", apperrors.ErrAuthRetryExhausted)
		c.Invalidate(t.Context(), "a1", apperrors.ErrAuthRetryExhausted)

		require.True(t, store.Read().IsZero())
		require.Equal(t, 1, notifier.SignedOutCount(), "second call has nothing to tear down")
		assert.True(t, errors.Is(notifier.signedOut[0], apperrors.ErrAuthRetryExhausted))
	})

	t.Run("keeps session with another token", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		notifier := &recordingNotifier{}
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, notifier, nil)

		c.Invalidate(t.Context(), "a0", apperrors.ErrAuthRetryExhausted)

		require.Equal(t, "a1", store.Read().Access.Value)
		require.Zero(t, notifier.SignedOutCount())
	})
}

func TestCoordinator_TokenSource(t *testing.T) {
	t.Run("token from session", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(10*time.Minute))
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, nil, nil)

		token, err := oauth2.ReuseTokenSource(nil, c.TokenSource(t.Context())).Token()

		require.NoError(t, err)
		require.Equal(t, "a1", token.AccessToken)
		require.Equal(t, "Bearer", token.Type())
		require.Equal(t, epoch.Add(10*time.Minute), token.Expiry)
	})

	t.Run("expiry of renewed token", func(t *testing.T) {
		store, _ := newStore(t, sessionExpiringIn(time.Minute))
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, nil, nil)

		token, err := c.TokenSource(t.Context()).Token()

		require.NoError(t, err)
		require.Equal(t, "a2", token.AccessToken)
		require.Equal(t, epoch.Add(time.Hour), token.Expiry)
	})

	t.Run("no session", func(t *testing.T) {
		store, _ := newStore(t, models.Session{})
		c := NewCoordinator(CoordinatorConfig{Now: newClock().Now}, renewTo("a2", time.Hour), store, nil, nil)

		_, err := c.TokenSource(t.Context()).Token()

		require.Error(t, err)
	})
}
