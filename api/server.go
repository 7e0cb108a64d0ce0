// Package api exposes the chat service over HTTP. Handlers stay thin: they
// validate input, call the collaborators behind small interfaces, and map
// failures onto the wire error taxonomy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/sitechat/content"
	"github.com/fabfab/sitechat/images"
	"github.com/fabfab/sitechat/llm"
	"github.com/fabfab/sitechat/store"
)

const requestTimeout = 90 * time.Second

// ConversationStore is the persistence surface the handlers consume.
type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID, title string) (store.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID, ownerID string) (store.Conversation, error)
	ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, ownerID, role, content, imageURL string) (store.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, ownerID string, limit, offset int) ([]store.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, ownerID string) ([]store.Message, error)
	SetArchived(ctx context.Context, id uuid.UUID, ownerID string, archived bool) error
	DeleteConversation(ctx context.Context, id uuid.UUID, ownerID string) (bool, error)
	GetPreferences(ctx context.Context, ownerID string) (map[string]any, error)
	PutPreferences(ctx context.Context, ownerID string, data map[string]any) error
}

// ImageStore handles uploads and inlining for model calls.
type ImageStore interface {
	Save(ctx context.Context, ownerID string, data []byte, mimeType string) (images.Meta, error)
	Get(ctx context.Context, id uuid.UUID, ownerID string) (images.Meta, error)
	FetchRemote(ctx context.Context, url string) (string, error)
}

// ChatClient is the model-facing surface of the chat handler.
type ChatClient interface {
	SendMessage(ctx context.Context, history []llm.Message, image, siteContext string) (*llm.Reply, error)
	TestConnection(ctx context.Context) (*llm.ConnectionStatus, error)
}

// ContextProvider supplies the site-context blob for a question and rebuilds
// it on demand.
type ContextProvider interface {
	Context(ctx context.Context, question string) (string, error)
	Refresh(ctx context.Context) (content.RefreshStats, error)
}

// Options wires a Server.
type Options struct {
	Store   ConversationStore
	Images  ImageStore
	Chat    ChatClient
	Context ContextProvider
	Logger  *zap.Logger
}

// Server holds the HTTP surface of the service.
type Server struct {
	store   ConversationStore
	images  ImageStore
	chat    ChatClient
	context ContextProvider
	logger  *zap.Logger
}

// NewServer builds a server over the given collaborators.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:   opts.Store,
		images:  opts.Images,
		chat:    opts.Chat,
		context: opts.Context,
		logger:  logger,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireOwner)

		r.Post("/chat", s.handleChat)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
			r.Get("/{id}/messages", s.handleListMessages)
			r.Post("/{id}/archive", s.handleArchiveConversation)
		})

		r.Post("/images", s.handleUploadImage)
		r.Get("/images/{id}", s.handleGetImage)

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)

		r.Get("/test-api", s.handleTestAPI)
		r.Post("/context/refresh", s.handleRefreshContext)
	})

	return r
}

type ownerKey struct{}

// requireOwner resolves the caller's identity from the X-User-ID header.
// Authentication itself happens upstream; an absent identity is rejected.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-User-ID")
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// writeFailure maps an internal error onto the wire taxonomy. Provider
// failures keep the provider's own message text; everything else gets a
// generic message so internals never leak.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		writeError(w, statusForKind(apiErr.Kind), string(apiErr.Kind), apiErr.Message)
		return
	}

	s.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func statusForKind(kind llm.ErrorKind) int {
	switch kind {
	case llm.KindNotConfigured:
		return http.StatusServiceUnavailable
	case llm.KindRateLimited:
		return http.StatusTooManyRequests
	case llm.KindInvalidCredential,
		llm.KindProviderUnavailable,
		llm.KindConnection,
		llm.KindInvalidResponse,
		llm.KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
