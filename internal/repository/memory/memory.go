package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/nkiryanov/authgateway/internal/repository"
)

// EntryRepo keeps entries in process memory only
type EntryRepo struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ repository.KVRepo = (*EntryRepo)(nil)

func NewEntryRepo() *EntryRepo {
	return &EntryRepo{entries: make(map[string]string)}
}

func (r *EntryRepo) Get(_ context.Context, keys ...string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	got := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := r.entries[key]; ok {
			got[key] = value
		}
	}
	return got, nil
}

func (r *EntryRepo) Set(_ context.Context, entries map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	maps.Copy(r.entries, entries)
	return nil
}

func (r *EntryRepo) Delete(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range keys {
		delete(r.entries, key)
	}
	return nil
}

// Len returns number of stored entries
func (r *EntryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
