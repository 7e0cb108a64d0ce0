package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// maxRetries bounds retry attempts after the initial call. Only HTTP 429
	// transitions to another attempt.
	maxRetries = 2

	maxBackoff    = 8 * time.Second
	maxRetryAfter = 30

	chatTimeout = 90 * time.Second
)

// Options configures a chat Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Prompt      PromptConfig
	Logger      *zap.Logger
}

// Client calls an OpenAI-compatible chat-completion endpoint with retry on
// rate limiting. It is stateless and safe for concurrent use.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	prompt      PromptConfig
	http        *http.Client
	logger      *zap.Logger
	sleep       func(time.Duration)
}

// NewClient builds a chat client. A missing credential is not an error here:
// calls fail fast with KindNotConfigured instead, so a half-configured service
// can still boot and report its state.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		prompt:      opts.Prompt,
		http:        &http.Client{Timeout: chatTimeout},
		logger:      logger,
		sleep:       time.Sleep,
	}
}

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []ProviderMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float32           `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// SendMessage builds the system prompt from siteContext, prepares the message
// list (attaching image data to the final user turn when present), and calls
// the completion endpoint.
func (c *Client) SendMessage(ctx context.Context, history []Message, image, siteContext string) (*Reply, error) {
	if c.apiKey == "" {
		return nil, &APIError{Kind: KindNotConfigured, Message: "no API credential configured"}
	}

	systemPrompt := BuildSystemPrompt(c.prompt, siteContext)
	messages := PrepareMessages(history, systemPrompt, image)
	return c.complete(ctx, messages)
}

// AnalyzeImage sends a single-turn request describing the supplied image. An
// empty prompt falls back to a generic description request.
func (c *Client) AnalyzeImage(ctx context.Context, image, prompt string) (*Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = "Describe the contents of this image."
	}
	history := []Message{{Role: RoleUser, Content: prompt}}
	return c.SendMessage(ctx, history, image, "")
}

// complete runs the retry state machine: HTTP 200 succeeds, HTTP 429 retries
// up to maxRetries with capped exponential backoff (or the provider's
// Retry-After when it is a sane number of seconds), everything else fails.
// Transport errors are never retried.
func (c *Client) complete(ctx context.Context, messages []ProviderMessage) (*Reply, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var wait time.Duration
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.logger.Info("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait))
			c.sleep(wait)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &APIError{Kind: KindConnection, Message: fmt.Sprintf("call chat API: %v", err)}
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &APIError{Kind: KindConnection, Message: fmt.Sprintf("read chat response: %v", readErr)}
		}

		if resp.StatusCode == http.StatusOK {
			return parseReply(data)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			wait = backoffDelay(attempt+1, resp.Header.Get("Retry-After"))
			continue
		}

		return nil, statusError(resp.StatusCode, data)
	}
}

// TestConnection probes the models-listing endpoint with the configured
// credential and reports how many chat-capable models are visible.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionStatus, error) {
	if c.apiKey == "" {
		return nil, &APIError{Kind: KindNotConfigured, Message: "no API credential configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Message: fmt.Sprintf("call models API: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindConnection, Message: fmt.Sprintf("read models response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}

	var models modelsResponse
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, &APIError{Kind: KindInvalidResponse, Message: "models response is not valid JSON"}
	}

	chatModels := 0
	for _, m := range models.Data {
		if strings.Contains(m.ID, "gpt") {
			chatModels++
		}
	}

	return &ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connection ok, %d chat models available", chatModels),
	}, nil
}

func parseReply(data []byte) (*Reply, error) {
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &APIError{Kind: KindInvalidResponse, Message: "chat response is not valid JSON"}
	}
	if len(parsed.Choices) == 0 {
		return nil, &APIError{Kind: KindInvalidResponse, Message: "chat response contains no choices"}
	}

	return &Reply{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
	}, nil
}

// backoffDelay waits min(2^n, 8) seconds before attempt n, unless the
// provider supplied a numeric Retry-After of at most 30 seconds.
func backoffDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 && secs <= maxRetryAfter {
			return time.Duration(secs) * time.Second
		}
	}

	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// statusError maps a non-200 status to the error taxonomy, preferring the
// provider's own message text when the body carries one.
func statusError(status int, body []byte) *APIError {
	message := ""
	var parsed providerError
	if err := json.Unmarshal(body, &parsed); err == nil {
		message = strings.TrimSpace(parsed.Error.Message)
	}

	switch status {
	case http.StatusUnauthorized:
		if message == "" {
			message = "invalid API credential"
		}
		return &APIError{Kind: KindInvalidCredential, StatusCode: status, Message: message}
	case http.StatusTooManyRequests:
		if message == "" {
			message = "rate limit or quota exhausted, retry shortly"
		}
		return &APIError{Kind: KindRateLimited, StatusCode: status, Message: message}
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		if message == "" {
			message = "provider temporarily unavailable"
		}
		return &APIError{Kind: KindProviderUnavailable, StatusCode: status, Message: message}
	default:
		if message == "" {
			message = fmt.Sprintf("unexpected status %d", status)
		}
		return &APIError{Kind: KindProviderError, StatusCode: status, Message: message}
	}
}
