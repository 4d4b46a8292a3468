package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"

	"verseroom/internal/document"
)

var ErrNotFound = errors.New("not found")

const (
	chatDocName      = "chat"
	botConfigDocName = "bot-config"
)

func (s *Store) readDoc(ctx context.Context, name string, out any) error {
	q := s.sql.Select("body").From("documents").Where(sq.Eq{"name": name})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build document query: %w", err)
	}

	var body string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("read document %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode document %q: %w", name, err)
	}
	return nil
}

func (s *Store) writeDoc(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document %q: %w", name, err)
	}

	q := s.sql.Insert("documents").
		Columns("name", "body", "updated_at").
		Values(name, string(body), nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build document upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("write document %q: %w", name, err)
	}
	return nil
}

// ReadDocument loads the chat document; a missing row yields an empty document.
func (s *Store) ReadDocument(ctx context.Context) (document.Document, error) {
	doc := document.New()
	if err := s.readDoc(ctx, chatDocName, &doc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return document.New(), nil
		}
		return document.Document{}, err
	}
	if doc.Users == nil {
		doc.Users = []document.User{}
	}
	if doc.Messages == nil {
		doc.Messages = []document.Message{}
	}
	if doc.OnlineUsers == nil {
		doc.OnlineUsers = []document.PresenceEntry{}
	}
	return doc, nil
}

func (s *Store) WriteDocument(ctx context.Context, doc document.Document) error {
	return s.writeDoc(ctx, chatDocName, doc)
}

func (s *Store) ReadBotConfig(ctx context.Context) (document.BotConfig, error) {
	var cfg document.BotConfig
	if err := s.readDoc(ctx, botConfigDocName, &cfg); err != nil {
		if errors.Is(err, ErrNotFound) {
			return document.DefaultBotConfig(), nil
		}
		return document.BotConfig{}, err
	}
	return cfg, nil
}

func (s *Store) WriteBotConfig(ctx context.Context, cfg document.BotConfig) error {
	return s.writeDoc(ctx, botConfigDocName, cfg)
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}

// DocStore serializes read-modify-write cycles over the chat document. The
// backing table has no row-level transactions across the blob, so every
// mutation must be one atomic read-all, mutate, write-all unit under the lock.
type DocStore struct {
	store *Store
	mu    sync.Mutex
}

func NewDocStore(s *Store) *DocStore {
	return &DocStore{store: s}
}

// Update runs fn against the current document and persists the result. fn
// returning an error aborts the cycle without writing.
func (d *DocStore) Update(ctx context.Context, fn func(doc *document.Document) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.store.ReadDocument(ctx)
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return d.store.WriteDocument(ctx, doc)
}

// View runs fn against a read-only snapshot of the document.
func (d *DocStore) View(ctx context.Context, fn func(doc document.Document) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.store.ReadDocument(ctx)
	if err != nil {
		return err
	}
	return fn(doc)
}
