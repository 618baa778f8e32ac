package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const pgSchema = `
CREATE TABLE IF NOT EXISTS queuectl_documents (
	name       text PRIMARY KEY,
	body       jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// PostgresStore keeps each document as one row. Exclusion comes from a transaction-scoped
// advisory lock per document, so a crashed holder releases it when its session ends.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts LockOptions
}

func NewPostgresStore(pool *pgxpool.Pool, opts LockOptions) *PostgresStore {
	opts.setDefaults()
	return &PostgresStore{pool: pool, opts: opts}
}

// Migrate creates the documents table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Transaction(ctx context.Context, doc Document, fn func([]byte) ([]byte, error)) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.lock(ctx, tx, doc); err != nil {
		return err
	}

	current, err := s.load(ctx, tx, doc)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queuectl_documents(name, body, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
		    updated_at = now()
	`, string(doc), string(next))
	if err != nil {
		return fmt.Errorf("write %s: %w", doc, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Read(ctx context.Context, doc Document) ([]byte, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.lock(ctx, tx, doc); err != nil {
		return nil, err
	}

	data, err := s.load(ctx, tx, doc)
	if err != nil {
		return nil, err
	}
	return data, tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) lock(ctx context.Context, tx pgx.Tx, doc Document) error {
	key := hashToBigint(string(doc))
	return acquire(ctx, s.opts, doc, func() error {
		var ok bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1::bigint)`, key).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return errBusy
		}
		return nil
	})
}

func (s *PostgresStore) load(ctx context.Context, tx pgx.Tx, doc Document) ([]byte, error) {
	var body string
	err := tx.QueryRow(ctx, `SELECT body::text FROM queuectl_documents WHERE name = $1`, string(doc)).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", doc, err)
	}
	return []byte(body), nil
}

func hashToBigint(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// advisory lock key is bigint; treat as signed int64
	return int64(h.Sum64())
}
