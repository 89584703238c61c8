package repository

import (
	"context"
	"errors"
)

// Returned by backends whose schema is not created yet
var ErrNotMigrated = errors.New("storage is not migrated")

// KVRepo is durable key-value storage for session entries
// All keys are plain strings, values are strings too
type KVRepo interface {
	// Get values for keys
	// Missing keys are absent in the result, it's not an error
	Get(ctx context.Context, keys ...string) (map[string]string, error)

	// Set all entries at once
	// Either all entries saved or none
	Set(ctx context.Context, entries map[string]string) error

	// Delete keys. Deleting missing keys is not an error
	Delete(ctx context.Context, keys ...string) error
}
