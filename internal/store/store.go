// Package store persists transcripts so re-processing the same scan does not
// call the recognition services again.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// ErrNotFound is returned when no transcript row exists for a key.
var ErrNotFound = sql.ErrNoRows

// Memory is a process-local transcript cache.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory returns an empty cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

// Lookup returns the stored text for key.
func (c *Memory) Lookup(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok, nil
}

// Store saves text under key.
func (c *Memory) Store(_ context.Context, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = text
	return nil
}

// Len returns the number of cached entries.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// TranscriptRepo is a Postgres-backed transcript cache.
type TranscriptRepo struct {
	DB     *sql.DB
	MaxAge time.Duration // Entries older than this miss (0 = never expire)
}

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewTranscriptRepo returns a repo over db. Entries older than maxAge are misses.
func NewTranscriptRepo(db *sql.DB, maxAge time.Duration) *TranscriptRepo {
	return &TranscriptRepo{DB: db, MaxAge: maxAge}
}

const schema = `
create table if not exists transcripts (
  cache_key  text primary key,
  body       text not null,
  created_at timestamptz not null default now()
)`

// Migrate creates the transcripts table if needed.
func (r *TranscriptRepo) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate transcripts: %w", err)
	}
	return nil
}

// Lookup returns the cached transcript for key.
func (r *TranscriptRepo) Lookup(ctx context.Context, key string) (string, bool, error) {
	const q = `select body, created_at from transcripts where cache_key = $1`
	var (
		body string
		ts   time.Time
	)
	err := r.DB.QueryRowContext(ctx, q, key).Scan(&body, &ts)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup transcript: %w", err)
	}
	if r.MaxAge > 0 && time.Since(ts) > r.MaxAge {
		return "", false, nil
	}
	return body, true, nil
}

// Store upserts the transcript for key.
func (r *TranscriptRepo) Store(ctx context.Context, key, text string) error {
	const q = `
insert into transcripts (cache_key, body) values ($1, $2)
on conflict (cache_key) do update
set body = excluded.body,
    created_at = now()`
	if _, err := r.DB.ExecContext(ctx, q, key, text); err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	return nil
}
