package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authgateway/internal/repository"
)

// EntryRepo keeps entries as plain redis strings under a common prefix
type EntryRepo struct {
	client goredis.UniversalClient
	prefix string
}

var _ repository.KVRepo = (*EntryRepo)(nil)

func NewEntryRepo(client goredis.UniversalClient, prefix string) *EntryRepo {
	return &EntryRepo{client: client, prefix: prefix}
}

func (r *EntryRepo) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	got := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return got, nil
	}

	values, err := r.client.MGet(ctx, r.keys(keys)...).Result()
	if err != nil {
		return nil, fmt.Errorf("get redis entries: %w", err)
	}

	for i, value := range values {
		// nil for missing key
		if s, ok := value.(string); ok {
			got[keys[i]] = s
		}
	}
	return got, nil
}

func (r *EntryRepo) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for key, value := range entries {
		pipe.Set(ctx, r.prefix+key, value, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set redis entries: %w", err)
	}
	return nil
}

func (r *EntryRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, r.keys(keys)...).Err(); err != nil {
		return fmt.Errorf("delete redis entries: %w", err)
	}
	return nil
}

func (r *EntryRepo) keys(keys []string) []string {
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, r.prefix+key)
	}
	return prefixed
}
