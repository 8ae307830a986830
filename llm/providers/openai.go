package providers

import (
	"encoding/json"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/c360studio/semtest/llm"
)

// OpenAIProvider speaks the OpenAI chat completions API, directly or through
// OpenRouter. A zero temperature is dropped by the wire type, so the API
// default applies; use the ollama provider when zero must be sent.
type OpenAIProvider struct{}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) KeyEnv() string { return "OPENAI_API_KEY" }

func (o *OpenAIProvider) BuildURL(baseURL string) string {
	return chatURL(baseURL, "https://api.openai.com/v1")
}

// SetHeaders sets the bearer token and the optional OpenRouter attribution
// headers (OPENROUTER_SITE_URL, OPENROUTER_SITE_NAME).
func (o *OpenAIProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if v := os.Getenv("OPENROUTER_SITE_URL"); v != "" {
		req.Header.Set("HTTP-Referer", v)
	}
	if v := os.Getenv("OPENROUTER_SITE_NAME"); v != "" {
		req.Header.Set("X-Title", v)
	}
}

func (o *OpenAIProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens: max(maxTokens, 0),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if temperature != nil {
		req.Temperature = float32(*temperature)
	}
	return json.Marshal(req)
}

func (o *OpenAIProvider) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	return parseChatCompletion(o.Name(), body)
}
