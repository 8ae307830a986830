// Package providers registers the wire protocols the llm client can speak.
// Import it for side effects.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/c360studio/semtest/llm"
)

const chatCompletionsPath = "/chat/completions"

// chatURL appends the chat completions path to base unless it is already there.
func chatURL(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, chatCompletionsPath) {
		return base
	}
	return base + chatCompletionsPath
}

// parseChatCompletion decodes an OpenAI-compatible completion. Servers that
// only speak the compatible dialect produce the same shape, so both the
// openai and ollama providers share it.
func parseChatCompletion(provider string, body []byte) (*llm.Response, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s response has no choices", provider)
	}

	choice := resp.Choices[0]
	return &llm.Response{
		Content: choice.Message.Content,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}
