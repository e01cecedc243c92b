package db

import (
	"context"
	"os"
	"testing"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"lobby", "gone", "stale", "fresh", "nobody-here"} {
		store.Delete(ctx, id)
	}
	storeContract(t, store)
}
