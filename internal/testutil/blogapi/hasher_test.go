package blogapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBcryptHasher(t *testing.T) {
	hasher := BcryptHasher{}

	hash, err := hasher.Hash("StrongEnoughPassword")
	require.NoError(t, err)
	require.NotEqual(t, "StrongEnoughPassword", hash, "hash must differ from password")

	require.NoError(t, hasher.Compare(hash, "StrongEnoughPassword"))
	require.Error(t, hasher.Compare(hash, "WrongPassword"))
}
