package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authgateway/internal/repository"
)

// EntryRepo keeps session entries in 'session_entries' table
type EntryRepo struct {
	DB DBTX
}

var _ repository.KVRepo = (*EntryRepo)(nil)

const getEntries = `-- name: Get entries by keys
SELECT key, value
FROM session_entries
WHERE key = ANY($1)
`

func (r *EntryRepo) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	entries := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return entries, nil
	}

	rows, _ := r.DB.Query(ctx, getEntries, keys)
	var key, value string
	_, err := pgx.ForEachRow(rows, []any{&key, &value}, func() error {
		entries[key] = value
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	return entries, nil
}

const upsertEntry = `-- name: Upsert entry
INSERT INTO session_entries (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

// Set upserts all entries in one transaction
func (r *EntryRepo) Set(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	return NewStorage(r.DB).InTx(ctx, func(s *Storage) error {
		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for key, value := range entries {
			batch.Queue(upsertEntry, key, value, now)
		}

		err := s.db.SendBatch(ctx, batch).Close()
		if err != nil {
			return dbError(err)
		}
		return nil
	})
}

const deleteEntries = `-- name: Delete entries by keys
DELETE FROM session_entries
WHERE key = ANY($1)
`

func (r *EntryRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := r.DB.Exec(ctx, deleteEntries, keys)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("db error: %w: %w", repository.ErrNotMigrated, err)
	}
	return fmt.Errorf("db error: %w", err)
}
