package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama talks to a local Ollama instance through its chat endpoint.
type Ollama struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllama creates a new Ollama client.
func NewOllama(url, model string, maxTokens int) *Ollama {
	return &Ollama{
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// GenerateText sends prompt as the system message and content as the user turn.
func (o *Ollama) GenerateText(ctx context.Context, prompt, content, model string) (*Response, error) {
	if model == "" {
		model = o.model
	}
	chat := ollamaChatRequest{
		Model:  model,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": o.maxTokens,
		},
	}
	if prompt != "" {
		chat.Messages = append(chat.Messages, ollamaMessage{Role: "system", Content: prompt})
	}
	chat.Messages = append(chat.Messages, ollamaMessage{Role: "user", Content: content})

	body, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama api status %d: %s", resp.StatusCode, msg)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Response{
		Content:    result.Message.Content,
		Provider:   "ollama",
		TokensUsed: result.PromptEvalCount + result.EvalCount,
	}, nil
}
