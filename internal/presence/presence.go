// Package presence tracks which identities currently hold an open realtime
// connection.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"verseroom/internal/document"
	"verseroom/internal/store"
)

var ErrInvalidIdentity = errors.New("identity id and username are required")

type entry struct {
	identity document.Identity
	isTyping bool
	conns    map[string]struct{}
}

// Tracker deduplicates presence by identity id: repeated connects for the same
// identity replace the entry instead of duplicating it.
type Tracker struct {
	docs *store.DocStore

	mu      sync.Mutex
	byID    map[string]*entry
	connIDs map[string]string

	// persistMu keeps snapshot and write as one unit, so concurrent
	// membership changes cannot persist an older snapshot after a newer one.
	persistMu sync.Mutex
}

func NewTracker(docs *store.DocStore) *Tracker {
	return &Tracker{
		docs:    docs,
		byID:    make(map[string]*entry),
		connIDs: make(map[string]string),
	}
}

// Connect registers an identity on a connection and persists the updated
// presence list. Empty id or username fails fast with no partial registration.
func (t *Tracker) Connect(ctx context.Context, identity document.Identity, connID string) (document.PresenceEntry, error) {
	if identity.ID == "" || identity.Username == "" {
		return document.PresenceEntry{}, ErrInvalidIdentity
	}

	t.mu.Lock()
	e, ok := t.byID[identity.ID]
	if !ok {
		e = &entry{identity: identity, conns: make(map[string]struct{})}
		t.byID[identity.ID] = e
	}
	e.identity = identity
	e.conns[connID] = struct{}{}
	t.connIDs[connID] = identity.ID
	t.mu.Unlock()

	if err := t.persist(ctx); err != nil {
		return document.PresenceEntry{}, err
	}
	return document.PresenceEntry{ID: identity.ID, Username: identity.Username}, nil
}

// Disconnect removes the presence entry tied to the connection's identity.
func (t *Tracker) Disconnect(ctx context.Context, connID string) error {
	t.mu.Lock()
	id, ok := t.connIDs[connID]
	if ok {
		delete(t.connIDs, connID)
		if e, exists := t.byID[id]; exists {
			delete(e.conns, connID)
			if len(e.conns) == 0 {
				delete(t.byID, id)
			}
		}
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return t.persist(ctx)
}

// SetTyping flips the ephemeral typing flag; it is never persisted.
func (t *Tracker) SetTyping(id string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		e.isTyping = isTyping
	}
}

// List returns the current snapshot, one entry per connected identity.
func (t *Tracker) List() []document.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []document.PresenceEntry {
	out := make([]document.PresenceEntry, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, document.PresenceEntry{
			ID:       e.identity.ID,
			Username: e.identity.Username,
			IsTyping: e.isTyping,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) persist(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	for i := range snapshot {
		snapshot[i].IsTyping = false
	}
	err := t.docs.Update(ctx, func(doc *document.Document) error {
		doc.OnlineUsers = snapshot
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist presence: %w", err)
	}
	return nil
}
