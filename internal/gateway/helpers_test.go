package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authgateway/internal/models"
	"github.com/nkiryanov/authgateway/internal/repository/memory"
	"github.com/nkiryanov/authgateway/internal/tokenstore"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Session with access token expiring in accessTTL and refresh token valid for a day
func sessionExpiringIn(accessTTL time.Duration) models.Session {
	return models.Session{
		Access:  models.IssuedToken{Value: "a1", ExpiresAt: epoch.Add(accessTTL)},
		Refresh: models.IssuedToken{Value: "r1", ExpiresAt: epoch.Add(24 * time.Hour)},
	}
}

func newStore(t *testing.T, session models.Session) (*tokenstore.Store, *memory.EntryRepo) {
	t.Helper()

	repo := memory.NewEntryRepo()
	store, err := tokenstore.Open(t.Context(), repo, tokenstore.AdminNamespace)
	require.NoError(t, err)

	if !session.IsZero() {
		require.NoError(t, store.Write(t.Context(), models.FullUpdate(session)))
	}
	return store, repo
}

type recordingNotifier struct {
	mu        sync.Mutex
	signedOut []error
	forbidden []Request
	errors    []string
}

func (n *recordingNotifier) SignedOut(cause error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signedOut = append(n.signedOut, cause)
}

func (n *recordingNotifier) Forbidden(req Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forbidden = append(n.forbidden, req)
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordingNotifier) SignedOutCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.signedOut)
}

// Renewer counting its calls
type stubRenewer struct {
	calls atomic.Int32
	renew func(ctx context.Context, refreshToken string) (models.IssuedToken, error)
}

func (r *stubRenewer) Renew(ctx context.Context, refreshToken string) (models.IssuedToken, error) {
	r.calls.Add(1)
	return r.renew(ctx, refreshToken)
}

func renewTo(value string, ttl time.Duration) *stubRenewer {
	return &stubRenewer{renew: func(context.Context, string) (models.IssuedToken, error) {
		return models.IssuedToken{Value: value, ExpiresAt: epoch.Add(ttl)}, nil
	}}
}
