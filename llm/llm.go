// Package llm talks to an OpenAI-compatible chat-completion endpoint.
package llm

import (
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn as persisted by the conversation store.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

// Usage mirrors the provider's token accounting for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the assistant's answer plus call metadata.
type Reply struct {
	Content string
	Model   string
	Usage   Usage
}

// ConnectionStatus reports the outcome of a connectivity probe.
type ConnectionStatus struct {
	Success bool
	Message string
}

// ErrorKind classifies client failures for the caller-facing error taxonomy.
type ErrorKind string

const (
	KindNotConfigured       ErrorKind = "not_configured"
	KindConnection          ErrorKind = "connection_error"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInvalidCredential   ErrorKind = "invalid_credential"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindInvalidResponse     ErrorKind = "invalid_response"
	KindProviderError       ErrorKind = "provider_error"
)

// APIError is a classified failure from the remote API or its transport.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf returns the error kind when err is an APIError, or the empty kind.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}
