package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/inkwell/internal/transcribe"
)

var (
	_ transcribe.Cache = (*Memory)(nil)
	_ transcribe.Cache = (*TranscriptRepo)(nil)
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	if _, ok, err := c.Lookup(ctx, "k"); ok || err != nil {
		t.Fatalf("empty cache hit: %v %v", ok, err)
	}
	if err := c.Store(ctx, "k", "공공선"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := c.Lookup(ctx, "k"); !ok || v != "공공선" {
		t.Errorf("Lookup() = %q, %v", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d", c.Len())
	}
}

// TestTranscriptRepo runs against a real database when INKWELL_TEST_DSN is set.
func TestTranscriptRepo(t *testing.T) {
	dsn := os.Getenv("INKWELL_TEST_DSN")
	if dsn == "" {
		t.Skip("INKWELL_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	repo := NewTranscriptRepo(db, 0)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	key := "test:" + uuid.NewString()
	defer db.ExecContext(context.Background(), `delete from transcripts where cache_key = $1`, key)

	if _, ok, err := repo.Lookup(ctx, key); ok || err != nil {
		t.Fatalf("unexpected hit: %v %v", ok, err)
	}
	for _, text := range []string{"first", "second"} {
		if err := repo.Store(ctx, key, text); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		got, ok, err := repo.Lookup(ctx, key)
		if err != nil || !ok || got != text {
			t.Errorf("Lookup() = %q, %v, %v; want %q", got, ok, err, text)
		}
	}
}
