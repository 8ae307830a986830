package providers

import (
	"encoding/json"
	"net/http"

	"github.com/c360studio/semtest/llm"
)

// OllamaProvider targets local OpenAI-compatible servers (Ollama, vLLM,
// LM Studio). It always sends the temperature, including zero, which local
// models honor for repeatable scenario output.
type OllamaProvider struct{}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

func (o *OllamaProvider) Name() string { return "ollama" }

// KeyEnv is only consulted when a gateway in front of the model wants a token.
func (o *OllamaProvider) KeyEnv() string { return "OLLAMA_API_KEY" }

func (o *OllamaProvider) BuildURL(baseURL string) string {
	return chatURL(baseURL, "http://localhost:11434/v1")
}

func (o *OllamaProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// localChatRequest differs from openai.ChatCompletionRequest in keeping an
// explicit zero temperature on the wire.
type localChatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

func (o *OllamaProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return json.Marshal(localChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   max(maxTokens, 0),
	})
}

func (o *OllamaProvider) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	return parseChatCompletion(o.Name(), body)
}
