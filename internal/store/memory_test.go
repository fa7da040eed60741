package store

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()

	v, err := store.Get(context.Background(), "missing")
	if err != nil || v != nil {
		t.Errorf("expected (nil, nil), got (%q, %v)", v, err)
	}
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	value := []byte("1700000000000\netag\n{}")
	if err := store.Set(ctx, "k", value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value[0] = 'X' // caller mutation must not leak into the store

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "1700000000000\netag\n{}" {
		t.Errorf("got %q", got)
	}

	if err := store.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := store.Get(ctx, "k"); string(got) != "second" {
		t.Errorf("last write should win, got %q", got)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Set(ctx, "shared", []byte("v"))
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, "shared")
		}()
	}
	wg.Wait()

	if got, _ := store.Get(ctx, "shared"); string(got) != "v" {
		t.Errorf("got %q", got)
	}
}
