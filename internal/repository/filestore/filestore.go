package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nkiryanov/authgateway/internal/repository"
)

// EntryRepo keeps entries in a JSON file readable by the owner only
// Every write replaces the file atomically
type EntryRepo struct {
	path string

	// Guards read-modify-write cycles inside the process
	mu sync.Mutex
}

var _ repository.KVRepo = (*EntryRepo)(nil)

func NewEntryRepo(path string) *EntryRepo {
	return &EntryRepo{path: path}
}

func (r *EntryRepo) Get(_ context.Context, keys ...string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	got := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := entries[key]; ok {
			got[key] = value
		}
	}
	return got, nil
}

func (r *EntryRepo) Set(_ context.Context, entries map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.load()
	if err != nil {
		return err
	}
	for key, value := range entries {
		stored[key] = value
	}
	return r.save(stored)
}

func (r *EntryRepo) Delete(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.load()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(stored, key)
	}
	return r.save(stored)
}

// Missing file is the same as empty one
func (r *EntryRepo) load() (map[string]string, error) {
	entries := make(map[string]string)

	data, err := os.ReadFile(r.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return entries, nil
	case err != nil:
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode session file %s: %w", r.path, err)
	}
	return entries, nil
}

func (r *EntryRepo) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tempFile := r.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempFile, r.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf("rename temp file: %w; remove temp file: %w", err, removeErr)
		}
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
