package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/config"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
		want any
	}{
		{"claude-cli", config.LLMConfig{Provider: "claude-cli", Model: "haiku"}, &ClaudeCLI{}},
		{"anthropic", config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key"}, &Anthropic{}},
		{"openai", config.LLMConfig{Provider: "openai", OpenAIKey: "test-key"}, &OpenAI{}},
		{"ollama", config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}, &Ollama{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, client)
		})
	}
}

func TestNewClientErrors(t *testing.T) {
	for _, cfg := range []config.LLMConfig{
		{Provider: "anthropic"},
		{Provider: "openai"},
		{Provider: "gpt"},
	} {
		_, err := NewClient(cfg)
		assert.Error(t, err, cfg.Provider)
	}
}

func TestNewClientNone(t *testing.T) {
	client, err := NewClient(config.LLMConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestFilterEnv(t *testing.T) {
	env := []string{
		"HOME=/home/user",
		"CLAUDE_SESSION_ID=abc123",
		"CLAUDE_TRANSCRIPT=/tmp/t.jsonl",
		"PATH=/usr/bin",
	}
	assert.Equal(t, []string{"HOME=/home/user", "PATH=/usr/bin"}, filterEnv(env))
}

func TestParseCLIOutput(t *testing.T) {
	resp, err := parseCLIOutput([]byte(`{"type":"result","result":"preference: likes dark mode\n","is_error":false,"usage":{"input_tokens":12,"output_tokens":6}}`))
	require.NoError(t, err)
	assert.Equal(t, "preference: likes dark mode", resp.Content)
	assert.Equal(t, 18, resp.TokensUsed)

	resp, err = parseCLIOutput([]byte("  plain text output\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain text output", resp.Content)

	_, err = parseCLIOutput([]byte(`{"result":"rate limited","is_error":true}`))
	assert.Error(t, err)
}

func TestOllamaGenerateText(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"role": "assistant", "content": "preference: likes dark mode"},
			"prompt_eval_count": 20,
			"eval_count":        7,
		})
	}))
	defer srv.Close()

	client := NewOllama(srv.URL, "llama3.2", 256)
	resp, err := client.GenerateText(context.Background(), "extract facts", "[USER] I like dark mode", "")
	require.NoError(t, err)
	assert.Equal(t, "preference: likes dark mode", resp.Content)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, 27, resp.TokensUsed)
	assert.Equal(t, "llama3.2", got.Model)
	assert.Equal(t, []ollamaMessage{
		{Role: "system", Content: "extract facts"},
		{Role: "user", Content: "[USER] I like dark mode"},
	}, got.Messages)

	_, err = client.GenerateText(context.Background(), "", "hi", "qwen2.5")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", got.Model)
	assert.Len(t, got.Messages, 1, "no system message without a prompt")
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing", 256).GenerateText(context.Background(), "", "hi", "")
	assert.Error(t, err)
}

func TestOpenAIGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "- name is Alex"}}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	client := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test", 256)
	resp, err := client.GenerateText(context.Background(), "extract", "My name is Alex", "")
	require.NoError(t, err)
	assert.Equal(t, "- name is Alex", resp.Content)
	assert.Equal(t, 15, resp.TokensUsed)
}

func TestExtractionPrompt(t *testing.T) {
	p := ExtractionPrompt(ExtractionRequest{
		Focus:      "stable facts about the user",
		Format:     FormatCategory,
		Categories: []string{"preference", "personal_info"},
		Known:      []string{"likes dark mode"},
	})
	assert.Contains(t, p, "category: fact text")
	assert.Contains(t, p, "preference, personal_info")
	assert.Contains(t, p, "- likes dark mode")
	assert.Contains(t, p, "NEVER include credentials")
	assert.Contains(t, p, NothingSentinel)

	bullet := ExtractionPrompt(ExtractionRequest{Focus: "this conversation", Format: FormatBullet})
	assert.Contains(t, bullet, "- fact text")
	assert.NotContains(t, bullet, "ALREADY KNOWN")
}

func TestParseLines(t *testing.T) {
	text := "1. dark mode settings\n- editor theme\n\n* 3D printing hobby\nNONE\n"
	assert.Equal(t, []string{"dark mode settings", "editor theme", "3D printing hobby"}, ParseLines(text))
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{
		Responses: []string{"first"},
		Response:  &Response{Content: "fallback", Provider: "mock"},
	}

	resp, err := mock.GenerateText(context.Background(), "p", "c", "m")
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.GenerateText(context.Background(), "p2", "c2", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Content)

	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, Call{Prompt: "p2", Content: "c2"}, mock.LastCall())
}
