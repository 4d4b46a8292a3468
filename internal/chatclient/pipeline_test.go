package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"verseroom/internal/document"
	"verseroom/internal/protocol"
)

// fakeServer accepts one WebSocket connection and records every envelope the
// client sends.
type fakeServer struct {
	srv      *httptest.Server
	received chan protocol.Envelope
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{received: make(chan protocol.Envelope, 16)}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if json.Unmarshal(data, &env) == nil {
				fs.received <- env
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-fs.received:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope received")
		return protocol.Envelope{}
	}
}

type fakeGenerator struct {
	release chan struct{}
	reply   string
	err     error
}

func (g *fakeGenerator) Ask(ctx context.Context, message string) (string, *document.TokenUsage, error) {
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return "", nil, g.err
	}
	return g.reply, &document.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, nil
}

func (g *fakeGenerator) AskPoem(ctx context.Context, message string) (string, *document.TokenUsage, error) {
	return g.Ask(ctx, message)
}

func newConnectedClient(t *testing.T, fs *fakeServer, gen Generator) *Client {
	t.Helper()
	c := New(Config{
		ServerURL: fs.wsURL(),
		Identity:  document.Identity{ID: "u1", Username: "alice"},
		Generator: gen,
		Logger:    zerolog.Nop(),
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasPlaceholder(c *Client) bool {
	for _, it := range c.Messages() {
		if it.Placeholder && it.Content == ThinkingText {
			return true
		}
	}
	return false
}

func TestSendPlainMessage(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs, &fakeGenerator{})

	if err := c.Send(context.Background(), "hello room"); err != nil {
		t.Fatalf("send: %v", err)
	}

	env := fs.next(t)
	if env.Event != protocol.EventMessageSend {
		t.Fatalf("event = %q", env.Event)
	}
	var p protocol.SendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Content != "hello room" || p.UserID != "u1" || p.Type != document.MessageTypeUser {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.AckID == "" {
		t.Fatal("ack id missing")
	}
}

func TestBotDirectiveWorkflow(t *testing.T) {
	fs := newFakeServer(t)
	gen := &fakeGenerator{release: make(chan struct{}), reply: "Go是一门编程语言"}
	c := newConnectedClient(t, fs, gen)

	if err := c.Send(context.Background(), "@bot 什么是Go"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The user message goes out immediately and a placeholder appears while
	// the generator is still working.
	env := fs.next(t)
	var user protocol.SendPayload
	if err := json.Unmarshal(env.Payload, &user); err != nil {
		t.Fatalf("decode user message: %v", err)
	}
	if user.Content != "@bot 什么是Go" {
		t.Fatalf("user message = %q", user.Content)
	}
	waitFor(t, func() bool { return hasPlaceholder(c) }, "placeholder")

	close(gen.release)

	env = fs.next(t)
	var botMsg protocol.SendPayload
	if err := json.Unmarshal(env.Payload, &botMsg); err != nil {
		t.Fatalf("decode bot message: %v", err)
	}
	if botMsg.UserID != document.BotUserID || botMsg.Type != document.MessageTypeBot {
		t.Fatalf("unexpected bot payload: %+v", botMsg)
	}
	if botMsg.Content != "Go是一门编程语言" {
		t.Fatalf("bot content = %q", botMsg.Content)
	}
	if botMsg.Tokens == nil || botMsg.Tokens.TotalTokens != 3 {
		t.Fatalf("bot tokens = %+v", botMsg.Tokens)
	}

	waitFor(t, func() bool { return !hasPlaceholder(c) }, "placeholder removal")
}

func TestPoemDirectiveRoutesToPoemBot(t *testing.T) {
	fs := newFakeServer(t)
	gen := &fakeGenerator{reply: "静夜思\n李白\n\n床前明月光"}
	c := newConnectedClient(t, fs, gen)

	if err := c.Send(context.Background(), "@poem 李白"); err != nil {
		t.Fatalf("send: %v", err)
	}

	fs.next(t) // user message

	env := fs.next(t)
	var botMsg protocol.SendPayload
	if err := json.Unmarshal(env.Payload, &botMsg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if botMsg.UserID != document.PoemBotUserID || botMsg.Username != document.PoemBotUsername {
		t.Fatalf("unexpected poem bot identity: %+v", botMsg)
	}
}

func TestBotFailurePublishesErrorMessage(t *testing.T) {
	fs := newFakeServer(t)
	gen := &fakeGenerator{err: errors.New("backend down")}
	c := newConnectedClient(t, fs, gen)

	if err := c.Send(context.Background(), "@bot hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	fs.next(t) // user message

	// A failed generation still resolves into a bot message the whole room
	// sees; it is never kept local-only.
	env := fs.next(t)
	var errMsg protocol.SendPayload
	if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
		t.Fatalf("decode error message: %v", err)
	}
	if errMsg.UserID != document.BotUserID || errMsg.Type != document.MessageTypeBot {
		t.Fatalf("unexpected error message identity: %+v", errMsg)
	}
	if !strings.HasPrefix(errMsg.Content, "抱歉，发生了错误") || !strings.Contains(errMsg.Content, "backend down") {
		t.Fatalf("error content = %q", errMsg.Content)
	}
	if errMsg.Tokens != nil {
		t.Fatalf("failure must not carry usage: %+v", errMsg.Tokens)
	}

	waitFor(t, func() bool { return !hasPlaceholder(c) }, "placeholder removal")
}

func TestIncomingMessagesResort(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs, &fakeGenerator{})

	c.addMessage(document.Message{ID: "2", Content: "second", Timestamp: 200})
	c.addMessage(document.Message{ID: "1", Content: "first", Timestamp: 100})
	c.addMessage(document.Message{ID: "2", Content: "second", Timestamp: 200}) // duplicate

	items := c.Messages()
	if len(items) != 2 {
		t.Fatalf("duplicate not dropped: %d items", len(items))
	}
	if items[0].ID != "1" || items[1].ID != "2" {
		t.Fatalf("not resorted by timestamp: %+v", items)
	}
}

func TestHistoryKeepsLivePlaceholders(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs, &fakeGenerator{})

	id := c.addPlaceholder(document.BotUserID, document.BotUsername)
	c.setHistory([]document.Message{{ID: "1", Content: "from server", Timestamp: 1}})

	items := c.Messages()
	if len(items) != 2 {
		t.Fatalf("expected history + placeholder, got %d", len(items))
	}
	if !hasPlaceholder(c) {
		t.Fatal("live placeholder dropped by history refresh")
	}

	c.removePlaceholder(id)
	c.setHistory([]document.Message{{ID: "1", Content: "from server", Timestamp: 1}})
	if hasPlaceholder(c) {
		t.Fatal("removed placeholder resurrected by history refresh")
	}
}

func TestCloseIsIdempotentUnderConcurrency(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs, &fakeGenerator{})

	// The read loop closes on connection teardown while the owner closes too;
	// neither path may panic.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done channel not closed")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("repeated close: %v", err)
	}
}

func TestIsSelfComparesByID(t *testing.T) {
	fs := newFakeServer(t)
	c := newConnectedClient(t, fs, &fakeGenerator{})

	if !c.IsSelf(document.Message{UserID: "u1", Username: "someone else"}) {
		t.Fatal("same id must be self regardless of username")
	}
	if c.IsSelf(document.Message{UserID: "u2", Username: "alice"}) {
		t.Fatal("same username with different id must not be self")
	}
}
