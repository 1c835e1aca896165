package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryPutGetVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "a", []byte("1"), PutOptions{IfVersion: NoVersion}); err != nil {
		t.Fatalf("create: %v", err)
	}
	v, ver, err := m.Get(ctx, "a")
	if err != nil || string(v) != "1" || ver != 1 {
		t.Fatalf("get: %q v%d err=%v", v, ver, err)
	}

	if err := m.Put(ctx, "a", []byte("2"), PutOptions{IfVersion: ver}); err != nil {
		t.Fatalf("cas update: %v", err)
	}
	if err := m.Put(ctx, "a", []byte("3"), PutOptions{IfVersion: ver}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale cas should conflict, got %v", err)
	}
	if err := m.Put(ctx, "a", []byte("4"), PutOptions{IfVersion: NoVersion}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("create-only on existing key should conflict, got %v", err)
	}
	if err := m.Put(ctx, "a", []byte("5"), PutOptions{IfVersion: AnyVersion}); err != nil {
		t.Fatalf("unconditional put: %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetNow(func() time.Time { return now })

	if err := m.Put(ctx, "day", []byte("x"), PutOptions{IfVersion: AnyVersion, TTL: time.Hour}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Get(ctx, "day"); err != nil {
		t.Fatalf("fresh key: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, _, err := m.Get(ctx, "day"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired key should be gone, got %v", err)
	}
	// An expired key behaves as absent for create-only writes.
	if err := m.Put(ctx, "day", []byte("y"), PutOptions{IfVersion: NoVersion}); err != nil {
		t.Errorf("create over expired key: %v", err)
	}
}

func TestMemoryListPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []string{"queue:lab:2025-03-10", "queue:xray:2025-03-10", "pin:2025-03-10"} {
		if err := m.Put(ctx, k, []byte("{}"), PutOptions{IfVersion: AnyVersion}); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := m.List(ctx, "queue:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "queue:lab:2025-03-10" || keys[1] != "queue:xray:2025-03-10" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestMemoryConcurrentCASSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Put(ctx, "k", []byte("0"), PutOptions{IfVersion: NoVersion}); err != nil {
		t.Fatal(err)
	}
	_, ver, _ := m.Get(ctx, "k")

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Put(ctx, "k", []byte("w"), PutOptions{IfVersion: ver}); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	n := 0
	for range wins {
		n++
	}
	if n != 1 {
		t.Errorf("expected exactly one CAS winner, got %d", n)
	}
}
