package llm

import (
	"context"
	"sync"
)

// Call is one recorded GenerateText invocation.
type Call struct {
	Prompt  string
	Content string
	Model   string
}

// MockClient is a test double for the LLM Client interface.
// Scripted Responses are consumed in order; afterwards Response/Err are returned.
// Handler, when set, takes precedence over both.
type MockClient struct {
	mu        sync.Mutex
	Response  *Response
	Responses []string
	Err       error
	Handler   func(prompt, content string) (string, error)
	Calls     []Call
}

// GenerateText records the call and returns the scripted response.
func (m *MockClient) GenerateText(ctx context.Context, prompt, content, model string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, Call{Prompt: prompt, Content: content, Model: model})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Handler != nil {
		text, err := m.Handler(prompt, content)
		if err != nil {
			return nil, err
		}
		return &Response{Content: text, Provider: "mock"}, nil
	}
	if len(m.Responses) > 0 {
		text := m.Responses[0]
		m.Responses = m.Responses[1:]
		return &Response{Content: text, Provider: "mock"}, nil
	}
	return m.Response, m.Err
}

// CallCount returns the number of recorded calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockClient) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Call{}
	}
	return m.Calls[len(m.Calls)-1]
}
