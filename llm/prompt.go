package llm

import (
	"encoding/json"
	"strings"
)

// PromptConfig carries the owner-configured pieces of the system prompt.
type PromptConfig struct {
	SiteName           string
	Language           string
	CustomInstructions string
}

const (
	contextOpen  = "=== SITE CONTENT START ==="
	contextClose = "=== SITE CONTENT END ==="

	noContextWarning = "Warning: no site content was available for this request. Answer from general knowledge and tell the user the site content could not be consulted."
)

// BuildSystemPrompt renders the deterministic system prompt: retrieval rules,
// the configured language, the owner's custom instructions, and the delimited
// site-context block (or an explicit warning when no context was supplied).
func BuildSystemPrompt(cfg PromptConfig, siteContext string) string {
	var sb strings.Builder

	site := strings.TrimSpace(cfg.SiteName)
	if site == "" {
		site = "this website"
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "English"
	}

	sb.WriteString("You are the assistant for " + site + ". Answer the user's questions using the site content below.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Search the site content case-insensitively and accent-insensitively when looking up a term.\n")
	sb.WriteString("- Synthesize answers in your own words instead of quoting passages verbatim.\n")
	sb.WriteString("- Respond in " + language + ".\n")
	sb.WriteString("- When an answer draws on a page, name the page title and include its URL.\n")
	sb.WriteString("- If the requested term or topic does not appear in the site content, reply that you could not find it on this site.\n")

	if custom := strings.TrimSpace(cfg.CustomInstructions); custom != "" {
		sb.WriteString("\n")
		sb.WriteString(custom)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if strings.TrimSpace(siteContext) == "" {
		sb.WriteString(noContextWarning)
	} else {
		sb.WriteString(contextOpen)
		sb.WriteString("\n")
		sb.WriteString(siteContext)
		sb.WriteString("\n")
		sb.WriteString(contextClose)
	}

	return sb.String()
}

// ContentPart is one element of a multi-part provider message.
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImagePayload `json:"image_url,omitempty"`
}

// ImagePayload references image data, either a URL or a data URI.
type ImagePayload struct {
	URL string `json:"url"`
}

// ProviderMessage is one entry of the wire-format messages array. Content is
// a plain string unless Parts is set, in which case the multi-part form is
// marshalled instead.
type ProviderMessage struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func (m ProviderMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}

// PrepareMessages assembles the provider message list: the system prompt
// first, then the history in order. When image data is present, only the last
// user turn is rewritten into a multi-part message carrying both its text and
// the image.
func PrepareMessages(history []Message, systemPrompt, image string) []ProviderMessage {
	messages := make([]ProviderMessage, 0, len(history)+1)
	messages = append(messages, ProviderMessage{Role: RoleSystem, Content: systemPrompt})

	lastUser := -1
	if image != "" {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == RoleUser {
				lastUser = i
				break
			}
		}
	}

	for i, msg := range history {
		pm := ProviderMessage{Role: msg.Role, Content: msg.Content}
		if i == lastUser {
			pm.Content = ""
			pm.Parts = []ContentPart{
				{Type: "text", Text: msg.Content},
				{Type: "image_url", ImageURL: &ImagePayload{URL: image}},
			}
		}
		messages = append(messages, pm)
	}

	return messages
}
