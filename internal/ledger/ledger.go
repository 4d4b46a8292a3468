// Package ledger owns the ordered, persisted collection of chat messages.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"verseroom/internal/document"
	"verseroom/internal/store"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("operation requires super admin")
)

type Draft struct {
	Content  string
	UserID   string
	Username string
	Type     string
	Tokens   *document.TokenUsage
}

type Filter struct {
	Content  string
	Username string
}

type Ledger struct {
	docs *store.DocStore

	mu     sync.Mutex
	lastID int64
}

func New(docs *store.DocStore) *Ledger {
	return &Ledger{docs: docs}
}

// Append assigns an id and timestamp, persists the message, and returns it.
// Durability precedes broadcast: callers fan out only after Append returns.
func (l *Ledger) Append(ctx context.Context, draft Draft) (document.Message, error) {
	if strings.TrimSpace(draft.Content) == "" {
		return document.Message{}, fmt.Errorf("message content is empty")
	}
	typ := draft.Type
	if typ == "" {
		typ = document.MessageTypeUser
	}

	now := time.Now()
	msg := document.Message{
		ID:        l.nextID(now),
		UserID:    draft.UserID,
		Username:  draft.Username,
		Content:   draft.Content,
		Timestamp: now.UnixMilli(),
		Type:      typ,
		Tokens:    draft.Tokens,
	}

	err := l.docs.Update(ctx, func(doc *document.Document) error {
		doc.Messages = append(doc.Messages, msg)
		return nil
	})
	if err != nil {
		return document.Message{}, fmt.Errorf("ledger unavailable: %w", err)
	}
	return msg, nil
}

// History returns all messages sorted ascending by timestamp, optionally
// substring-filtered (case-insensitive) on content and sender username.
func (l *Ledger) History(ctx context.Context, filter Filter) ([]document.Message, error) {
	var out []document.Message
	err := l.docs.View(ctx, func(doc document.Document) error {
		out = make([]document.Message, 0, len(doc.Messages))
		content := strings.ToLower(strings.TrimSpace(filter.Content))
		username := strings.ToLower(strings.TrimSpace(filter.Username))
		for _, m := range doc.Messages {
			if m.Type == "" {
				m.Type = document.MessageTypeUser
			}
			if content != "" && !strings.Contains(strings.ToLower(m.Content), content) {
				continue
			}
			if username != "" && !strings.Contains(strings.ToLower(m.Username), username) {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger unavailable: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Delete removes one message. Deleting an unknown id returns ErrNotFound.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	err := l.docs.Update(ctx, func(doc *document.Document) error {
		for i, m := range doc.Messages {
			if m.ID == id {
				doc.Messages = append(doc.Messages[:i], doc.Messages[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return nil
}

// ClearAll empties the ledger and reports how many messages were removed.
// Only a SUPER_ADMIN identity may clear; the check happens before any mutation.
func (l *Ledger) ClearAll(ctx context.Context, actor document.Identity) (int, error) {
	if actor.Role != document.RoleSuperAdmin {
		return 0, ErrForbidden
	}

	removed := 0
	err := l.docs.Update(ctx, func(doc *document.Document) error {
		removed = len(doc.Messages)
		doc.Messages = []document.Message{}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger unavailable: %w", err)
	}
	return removed, nil
}

// nextID derives a unique id from creation time. Two appends inside the same
// millisecond get distinct, still monotonic ids.
func (l *Ledger) nextID(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := now.UnixMilli()
	if id <= l.lastID {
		id = l.lastID + 1
	}
	l.lastID = id
	return strconv.FormatInt(id, 10)
}
