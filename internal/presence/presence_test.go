package presence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"verseroom/internal/document"
	"verseroom/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.DocStore) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	docs := store.NewDocStore(s)
	return NewTracker(docs), docs
}

func TestConnectRejectsEmptyIdentity(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Connect(ctx, document.Identity{Username: "alice"}, "c1"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing id, got %v", err)
	}
	if _, err := tr.Connect(ctx, document.Identity{ID: "u1"}, "c1"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for missing username, got %v", err)
	}
	if len(tr.List()) != 0 {
		t.Fatal("failed connect must not register")
	}
}

func TestReconnectDeduplicatesByID(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	alice := document.Identity{ID: "u1", Username: "alice"}

	if _, err := tr.Connect(ctx, alice, "c1"); err != nil {
		t.Fatalf("connect#1: %v", err)
	}
	if _, err := tr.Connect(ctx, alice, "c2"); err != nil {
		t.Fatalf("connect#2: %v", err)
	}

	list := tr.List()
	if len(list) != 1 {
		t.Fatalf("expected single entry for reconnected identity, got %d", len(list))
	}

	// Closing one of the two connections keeps the identity online.
	if err := tr.Disconnect(ctx, "c1"); err != nil {
		t.Fatalf("disconnect c1: %v", err)
	}
	if len(tr.List()) != 1 {
		t.Fatal("identity should stay online while a connection remains")
	}

	if err := tr.Disconnect(ctx, "c2"); err != nil {
		t.Fatalf("disconnect c2: %v", err)
	}
	if len(tr.List()) != 0 {
		t.Fatal("identity should go offline after the last connection closes")
	}
}

func TestTypingIsEphemeral(t *testing.T) {
	tr, docs := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Connect(ctx, document.Identity{ID: "u1", Username: "alice"}, "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.SetTyping("u1", true)

	list := tr.List()
	if len(list) != 1 || !list[0].IsTyping {
		t.Fatalf("typing flag should be visible in snapshot: %+v", list)
	}

	// The persisted presence list never carries typing flags.
	var persisted []document.PresenceEntry
	if err := docs.View(ctx, func(doc document.Document) error {
		persisted = doc.OnlineUsers
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(persisted) != 1 || persisted[0].IsTyping {
		t.Fatalf("typing must not be persisted: %+v", persisted)
	}
}

func TestConcurrentConnectsPersistFreshSnapshot(t *testing.T) {
	tr, docs := newTestTracker(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			if _, err := tr.Connect(ctx, document.Identity{ID: id, Username: "user-" + id}, "c-"+id); err != nil {
				t.Errorf("connect %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	// After all connects settle, the persisted list must match the live one.
	var persisted []document.PresenceEntry
	if err := docs.View(ctx, func(doc document.Document) error {
		persisted = doc.OnlineUsers
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(persisted) != n {
		t.Fatalf("persisted snapshot is stale: %d entries, want %d", len(persisted), n)
	}
	if len(tr.List()) != n {
		t.Fatalf("live list broken: %d entries, want %d", len(tr.List()), n)
	}
}

func TestDisconnectUnknownConnIsNoop(t *testing.T) {
	tr, _ := newTestTracker(t)
	if err := tr.Disconnect(context.Background(), "ghost"); err != nil {
		t.Fatalf("unknown disconnect should be a no-op, got %v", err)
	}
}
