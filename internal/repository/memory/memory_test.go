package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryRepo(t *testing.T) {
	repo := NewEntryRepo()

	err := repo.Set(t.Context(), map[string]string{"admin_access_token": "a1", "admin_refresh_token": "r1"})
	require.NoError(t, err)

	got, err := repo.Get(t.Context(), "admin_access_token", "admin_principal")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"admin_access_token": "a1"}, got, "missing keys must be absent")

	err = repo.Delete(t.Context(), "admin_access_token", "not_existed")
	require.NoError(t, err)
	require.Equal(t, 1, repo.Len(), "only refresh token has to stay")
}
