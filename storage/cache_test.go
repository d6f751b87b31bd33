package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"retro-api/domain"
)

type stubBackend struct {
	snaps map[string]*domain.Snapshot
	loads int
	saves int
}

func newStubBackend() *stubBackend {
	return &stubBackend{snaps: map[string]*domain.Snapshot{}}
}

func (s *stubBackend) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	s.saves++
	s.snaps[snap.BoardID] = snap
	return nil
}

func (s *stubBackend) LoadSnapshot(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	s.loads++
	snap, ok := s.snaps[boardID]
	if !ok {
		return nil, NotFoundError{BoardID: boardID}
	}
	return snap, nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func testSnapshot(t *testing.T, boardID string) *domain.Snapshot {
	t.Helper()
	board := domain.NewBoard(boardID, []string{"Start", "More", "Keep", "Less", "Stop"})
	if _, err := board.Apply("alice", domain.Mutation{Kind: domain.MutationAddCard, ColumnID: "0", Text: "halp"}, 0); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return board.Snapshot()
}

func TestCacheAsRedisOnlyStore(t *testing.T) {
	cache := NewCache(nil, testRedis(t), 0)
	ctx := context.Background()

	_, err := cache.LoadSnapshot(ctx, "b1")
	var notFound NotFoundError
	if !errors.As(err, &notFound) || notFound.BoardID != "b1" {
		t.Fatalf("expected NotFoundError for empty store, got %v", err)
	}

	snap := testSnapshot(t, "b1")
	if err := cache.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := cache.LoadSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Revision != snap.Revision || len(loaded.Columns[0].Cards) != 1 {
		t.Fatalf("round trip lost state: %+v", loaded)
	}
}

func TestCacheReadThrough(t *testing.T) {
	base := newStubBackend()
	base.snaps["b1"] = testSnapshot(t, "b1")
	cache := NewCache(base, testRedis(t), 0)
	ctx := context.Background()

	if _, err := cache.LoadSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if base.loads != 1 {
		t.Fatalf("expected one backend read, got %d", base.loads)
	}

	// The second read is served from the cache.
	if _, err := cache.LoadSnapshot(ctx, "b1"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if base.loads != 1 {
		t.Fatalf("expected cached read, backend saw %d reads", base.loads)
	}
}

func TestCacheWriteThrough(t *testing.T) {
	base := newStubBackend()
	rc := testRedis(t)
	cache := NewCache(base, rc, 0)
	ctx := context.Background()

	snap := testSnapshot(t, "b1")
	if err := cache.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if base.saves != 1 {
		t.Fatalf("expected write-through to the backend, got %d saves", base.saves)
	}
	if err := rc.Get(ctx, snapshotCacheKey("b1")).Err(); err != nil {
		t.Fatalf("expected cache entry after save: %v", err)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	base := newStubBackend()
	base.snaps["b1"] = testSnapshot(t, "b1")
	rc := testRedis(t)
	cache := NewCache(base, rc, 0)
	ctx := context.Background()

	if err := rc.Set(ctx, snapshotCacheKey("b1"), "{not json", 0).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	loaded, err := cache.LoadSnapshot(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if base.loads != 1 || loaded.Revision != 1 {
		t.Fatalf("expected fallback to the backend, loads=%d", base.loads)
	}
}

func TestCacheMissPropagatesNotFound(t *testing.T) {
	cache := NewCache(newStubBackend(), testRedis(t), 0)

	_, err := cache.LoadSnapshot(context.Background(), "missing")
	var notFound NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
