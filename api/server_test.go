package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/images"
	"github.com/fabfab/sitechat/llm"
	"github.com/fabfab/sitechat/store"
)

type memStore struct {
	conversations map[uuid.UUID]store.Conversation
	messages      map[uuid.UUID][]store.Message
	prefs         map[string]map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		conversations: map[uuid.UUID]store.Conversation{},
		messages:      map[uuid.UUID][]store.Message{},
		prefs:         map[string]map[string]any{},
	}
}

func (m *memStore) CreateConversation(_ context.Context, ownerID, title string) (store.Conversation, error) {
	conv := store.Conversation{ID: uuid.New(), OwnerID: ownerID, Title: title}
	m.conversations[conv.ID] = conv
	return conv, nil
}

func (m *memStore) GetConversation(_ context.Context, id uuid.UUID, ownerID string) (store.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok || conv.OwnerID != ownerID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (m *memStore) ListConversations(_ context.Context, ownerID string, _, _ int) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, conv := range m.conversations {
		if conv.OwnerID == ownerID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *memStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, ownerID, role, content, imageURL string) (store.Message, error) {
	if _, err := m.GetConversation(ctx, conversationID, ownerID); err != nil {
		return store.Message{}, err
	}
	msg := store.Message{ID: uuid.New(), ConversationID: conversationID, Role: role, Content: content, ImageURL: imageURL}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return msg, nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID, ownerID string, _, _ int) ([]store.Message, error) {
	if _, err := m.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	return m.messages[conversationID], nil
}

func (m *memStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, ownerID string) ([]store.Message, error) {
	return m.ListMessages(ctx, conversationID, ownerID, 0, 0)
}

func (m *memStore) SetArchived(ctx context.Context, id uuid.UUID, ownerID string, archived bool) error {
	conv, err := m.GetConversation(ctx, id, ownerID)
	if err != nil {
		return err
	}
	conv.Archived = archived
	m.conversations[id] = conv
	return nil
}

func (m *memStore) DeleteConversation(ctx context.Context, id uuid.UUID, ownerID string) (bool, error) {
	if _, err := m.GetConversation(ctx, id, ownerID); err != nil {
		return false, nil
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return true, nil
}

func (m *memStore) GetPreferences(_ context.Context, ownerID string) (map[string]any, error) {
	if prefs, ok := m.prefs[ownerID]; ok {
		return prefs, nil
	}
	return map[string]any{}, nil
}

func (m *memStore) PutPreferences(_ context.Context, ownerID string, data map[string]any) error {
	m.prefs[ownerID] = data
	return nil
}

type stubChat struct {
	reply *llm.Reply
	err   error

	calls     int
	histories [][]llm.Message
	image     string
	context   string
}

func (c *stubChat) SendMessage(_ context.Context, history []llm.Message, image, siteContext string) (*llm.Reply, error) {
	c.calls++
	c.histories = append(c.histories, history)
	c.image = image
	c.context = siteContext
	if c.err != nil {
		return nil, c.err
	}
	return c.reply, nil
}

func (c *stubChat) TestConnection(context.Context) (*llm.ConnectionStatus, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ConnectionStatus{Success: true, Message: "connection ok, 3 chat models available"}, nil
}

type stubContext struct {
	blob string
	err  error
}

func (c *stubContext) Context(context.Context, string) (string, error) { return c.blob, c.err }
func (c *stubContext) Refresh(context.Context) (content.RefreshStats, error) {
	if c.err != nil {
		return content.RefreshStats{}, c.err
	}
	return content.RefreshStats{PageCount: 4, SourceCount: 1, ByteSize: len(c.blob)}, nil
}

type stubImages struct {
	saved int
}

func (i *stubImages) Save(_ context.Context, ownerID string, data []byte, mimeType string) (images.Meta, error) {
	i.saved++
	return images.Meta{ID: uuid.New(), OwnerID: ownerID, MimeType: mimeType, URL: "/api/v1/images/stub"}, nil
}

func (i *stubImages) Get(context.Context, uuid.UUID, string) (images.Meta, error) {
	return images.Meta{}, fmt.Errorf("not stored")
}

func (i *stubImages) FetchRemote(_ context.Context, url string) (string, error) {
	return "data:image/png;base64,ZmV0Y2hlZA==", nil
}

type fixture struct {
	store  *memStore
	chat   *stubChat
	ctx    *stubContext
	images *stubImages
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(),
		chat:   &stubChat{reply: &llm.Reply{Content: "the answer", Model: "gpt-4o-mini", Usage: llm.Usage{TotalTokens: 42}}},
		ctx:    &stubContext{blob: "Site: Example\n\nTitle: Home"},
		images: &stubImages{},
	}
	server := NewServer(Options{Store: f.store, Images: f.images, Chat: f.chat, Context: f.ctx})
	f.srv = httptest.NewServer(server.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestMissingIdentityHeader(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/chat", "", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestChatCreatesConversationAndPersistsBothTurns(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{"message": "what is on the home page?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decode[chatResponse](t, resp)

	if out.Message.Role != llm.RoleAssistant || out.Message.Content != "the answer" {
		t.Fatalf("unexpected reply payload: %+v", out.Message)
	}
	if out.Usage.TotalTokens != 42 {
		t.Fatalf("usage not forwarded: %+v", out.Usage)
	}

	convID, err := uuid.Parse(out.ConversationID)
	if err != nil {
		t.Fatalf("conversation id not a UUID: %v", err)
	}
	messages := f.store.messages[convID]
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant turns persisted, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleUser || messages[1].Role != llm.RoleAssistant {
		t.Fatalf("turns out of order: %+v", messages)
	}

	// The model call saw the user turn and the cached site context.
	if f.chat.calls != 1 || len(f.chat.histories[0]) != 1 {
		t.Fatalf("unexpected model call: calls=%d", f.chat.calls)
	}
	if f.chat.context != f.ctx.blob {
		t.Fatalf("site context not forwarded: %q", f.chat.context)
	}
}

func TestChatModelFailureKeepsUserTurnOnly(t *testing.T) {
	f := newFixture(t)
	f.chat.err = &llm.APIError{Kind: llm.KindRateLimited, StatusCode: 429, Message: "quota exhausted"}

	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{"message": "hello"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	out := decode[errorResponse](t, resp)
	if out.Error.Kind != "rate_limited" {
		t.Fatalf("unexpected error kind %q", out.Error.Kind)
	}

	for _, messages := range f.store.messages {
		if len(messages) != 1 || messages[0].Role != llm.RoleUser {
			t.Fatalf("expected only the user turn persisted, got %+v", messages)
		}
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{"message": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{
		"message":         "hi",
		"conversation_id": uuid.NewString(),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if f.chat.calls != 0 {
		t.Fatal("model must not be called for an unknown conversation")
	}
}

func TestChatStoresInlineImage(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{
		"message": "what is this?",
		"image":   "data:image/png;base64,aGVsbG8=",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if f.images.saved != 1 {
		t.Fatalf("expected upload persisted once, saved=%d", f.images.saved)
	}
	if f.chat.image != "data:image/png;base64,aGVsbG8=" {
		t.Fatalf("inline image not forwarded to the model: %q", f.chat.image)
	}
}

func TestChatContextFailure(t *testing.T) {
	f := newFixture(t)
	f.ctx.err = fmt.Errorf("no pages retrieved from any content source")

	resp := f.do(t, http.MethodPost, "/api/v1/chat", "alice", map[string]string{"message": "hi"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if f.chat.calls != 0 {
		t.Fatal("model must not be called without site context")
	}
}

func TestConversationCRUD(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/conversations", "alice", map[string]string{"title": "trip planning"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	created := decode[conversationPayload](t, resp)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, "bob", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get: expected 404, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/conversations/"+created.ID+"/archive", "alice", map[string]bool{"archived": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodDelete, "/api/v1/conversations/"+created.ID, "alice", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodDelete, "/api/v1/conversations/"+created.ID, "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/v1/preferences", "alice", map[string]string{"language": "it"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: expected 200, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/preferences", "alice", nil)
	prefs := decode[map[string]any](t, resp)
	if prefs["language"] != "it" {
		t.Fatalf("unexpected preferences: %v", prefs)
	}
}

func TestTestAPIMapsNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.chat.err = &llm.APIError{Kind: llm.KindNotConfigured, Message: "no API credential configured"}

	resp := f.do(t, http.MethodGet, "/api/v1/test-api", "admin", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestContextRefreshReportsStats(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/context/refresh", "admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	stats := decode[map[string]any](t, resp)
	if stats["pages"].(float64) != 4 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestUploadImageRejectsNonDataURI(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/images", "alice", map[string]string{"image": "https://example.com/cat.png"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
