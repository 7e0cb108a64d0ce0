package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/sitechat/images"
	"github.com/fabfab/sitechat/llm"
	"github.com/fabfab/sitechat/store"
)

const maxTitleRunes = 60

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Image          string `json:"image,omitempty"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ConversationID string         `json:"conversation_id"`
	Message        messagePayload `json:"message"`
	Model          string         `json:"model,omitempty"`
	Usage          llm.Usage      `json:"usage"`
}

// handleChat runs one chat turn. The user's message is durably persisted
// before the model call begins; the assistant's turn is persisted only after
// the call succeeds.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "message must not be empty")
		return
	}

	conv, err := s.resolveConversation(r, owner, req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	inlineImage, imageURL, err := s.resolveImage(r, owner, req.Image)
	if err != nil {
		if errors.Is(err, images.ErrTooLarge) || errors.Is(err, images.ErrUnsupportedType) || errors.Is(err, errBadImageRef) {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		s.writeFailure(w, err)
		return
	}

	if _, err := s.store.AppendMessage(r.Context(), conv.ID, owner, llm.RoleUser, req.Message, imageURL); err != nil {
		s.writeFailure(w, err)
		return
	}

	history, err := s.store.RecentMessages(r.Context(), conv.ID, owner)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	siteContext, err := s.context.Context(r.Context(), req.Message)
	if err != nil {
		s.logger.Warn("site context unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "context_unavailable", "site content is temporarily unavailable")
		return
	}

	reply, err := s.chat.SendMessage(r.Context(), toLLMHistory(history), inlineImage, siteContext)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	if _, err := s.store.AppendMessage(r.Context(), conv.ID, owner, llm.RoleAssistant, reply.Content, ""); err != nil {
		s.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID.String(),
		Message:        messagePayload{Role: llm.RoleAssistant, Content: reply.Content},
		Model:          reply.Model,
		Usage:          reply.Usage,
	})
}

func (s *Server) resolveConversation(r *http.Request, owner string, req chatRequest) (store.Conversation, error) {
	if req.ConversationID == "" {
		return s.store.CreateConversation(r.Context(), owner, titleFromMessage(req.Message))
	}

	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return store.Conversation{}, store.ErrNotFound
	}
	return s.store.GetConversation(r.Context(), id, owner)
}

var errBadImageRef = errors.New("image must be a data URI or an http(s) URL")

// resolveImage turns the caller's image reference into the inline form the
// model call needs and the URL persisted alongside the user turn. Inline
// uploads are also written to the image store.
func (s *Server) resolveImage(r *http.Request, owner, image string) (inline, url string, err error) {
	switch {
	case image == "":
		return "", "", nil

	case strings.HasPrefix(image, "data:"):
		mimeType, data, err := images.ParseDataURI(image)
		if err != nil {
			return "", "", err
		}
		meta, err := s.images.Save(r.Context(), owner, data, mimeType)
		if err != nil {
			return "", "", err
		}
		return image, meta.URL, nil

	case strings.HasPrefix(image, "http://"), strings.HasPrefix(image, "https://"):
		inline, err := s.images.FetchRemote(r.Context(), image)
		if err != nil {
			return "", "", err
		}
		return inline, image, nil

	default:
		return "", "", errBadImageRef
	}
}

func toLLMHistory(messages []store.Message) []llm.Message {
	history := make([]llm.Message, len(messages))
	for i, msg := range messages {
		history[i] = llm.Message{Role: msg.Role, Content: msg.Content, ImageURL: msg.ImageURL}
	}
	return history
}

func titleFromMessage(message string) string {
	title := strings.TrimSpace(message)
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes-3])) + "..."
	}
	return title
}
