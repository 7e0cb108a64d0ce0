package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fabfab/sitechat/store"
)

type conversationPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toConversationPayload(conv store.Conversation) conversationPayload {
	return conversationPayload{
		ID:        conv.ID.String(),
		Title:     conv.Title,
		Archived:  conv.Archived,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

type storedMessagePayload struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	value, _ := strconv.Atoi(r.URL.Query().Get(key))
	return value
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.ListConversations(r.Context(), ownerID(r), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	payload := make([]conversationPayload, 0, len(conversations))
	for _, conv := range conversations {
		payload = append(payload, toConversationPayload(conv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": payload})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), ownerID(r), req.Title)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationPayload(conv))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id, ownerID(r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationPayload(conv))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	deleted, err := s.store.DeleteConversation(r.Context(), id, ownerID(r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	messages, err := s.store.ListMessages(r.Context(), id, ownerID(r), queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	payload := make([]storedMessagePayload, 0, len(messages))
	for _, msg := range messages {
		payload = append(payload, storedMessagePayload{
			ID:        msg.ID.String(),
			Role:      msg.Role,
			Content:   msg.Content,
			ImageURL:  msg.ImageURL,
			CreatedAt: msg.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": payload})
}

func (s *Server) handleArchiveConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	req := struct {
		Archived *bool `json:"archived"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON")
		return
	}
	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}

	if err := s.store.SetArchived(r.Context(), id, ownerID(r), archived); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "archived": archived})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON")
		return
	}

	mimeType, data, err := parseUpload(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	meta, err := s.images.Save(r.Context(), ownerID(r), data, mimeType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         meta.ID.String(),
		"url":        meta.URL,
		"mime_type":  meta.MimeType,
		"expires_at": meta.ExpiresAt,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	meta, err := s.images.Get(r.Context(), id, ownerID(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}

	w.Header().Set("Content-Type", meta.MimeType)
	http.ServeFile(w, r, meta.Path)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.GetPreferences(r.Context(), ownerID(r))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs map[string]any
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil || prefs == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "preferences must be a JSON object")
		return
	}

	if err := s.store.PutPreferences(r.Context(), ownerID(r), prefs); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleTestAPI(w http.ResponseWriter, r *http.Request) {
	status, err := s.chat.TestConnection(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": status.Success,
		"message": status.Message,
	})
}

func (s *Server) handleRefreshContext(w http.ResponseWriter, r *http.Request) {
	stats, err := s.context.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "context_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":            stats.PageCount,
		"sources":          stats.SourceCount,
		"bytes":            stats.ByteSize,
		"duration_seconds": stats.Duration.Seconds(),
	})
}
