package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order on every start. Tables created by older
// deployments carry only id, name and url; the ALTERs bring them forward.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS streams (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url  TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE streams ADD COLUMN IF NOT EXISTS name TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE streams ADD COLUMN IF NOT EXISTS url TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE streams ADD COLUMN IF NOT EXISTS photo_url TEXT`,
	`ALTER TABLE streams ADD COLUMN IF NOT EXISTS last_processed TIMESTAMPTZ`,
}

// PostgresStore is a Store backed by the streams table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore uses pool; the pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates or upgrades the streams table and, when defaultURL is
// set, seeds stream 1 with it unless a row already exists.
func (s *PostgresStore) EnsureSchema(ctx context.Context, defaultURL string) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure streams table: %w", err)
		}
	}
	if defaultURL == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO streams (id, name, url) VALUES (1, 'default', $1) ON CONFLICT (id) DO NOTHING`,
		defaultURL)
	if err != nil {
		return fmt.Errorf("seed default stream: %w", err)
	}
	// Keep BIGSERIAL ahead of the explicit id.
	_, err = s.pool.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('streams', 'id'), GREATEST((SELECT MAX(id) FROM streams), 1))`)
	if err != nil {
		return fmt.Errorf("advance streams sequence: %w", err)
	}
	return nil
}

const selectStream = `SELECT id, name, url, COALESCE(photo_url, ''), last_processed FROM streams`

func scanStream(row pgx.Row) (Stream, error) {
	var st Stream
	var last *time.Time
	if err := row.Scan(&st.ID, &st.Name, &st.SourceURL, &st.PhotoURL, &last); err != nil {
		return Stream{}, err
	}
	if last != nil {
		t := last.UTC()
		st.LastProcessed = &t
	}
	return st, nil
}

// Get implements Store.Get.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Stream, error) {
	st, err := scanStream(s.pool.QueryRow(ctx, selectStream+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %d: %w", id, err)
	}
	return &st, nil
}

// List implements Store.List.
func (s *PostgresStore) List(ctx context.Context) ([]Stream, error) {
	rows, err := s.pool.Query(ctx, selectStream+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return out, nil
}

// MarkProcessed implements Store.MarkProcessed.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE streams SET last_processed = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark stream %d processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
