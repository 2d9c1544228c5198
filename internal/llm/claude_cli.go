package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLI runs `claude -p` as a subprocess. Useful when the machine is
// already logged in and no API key is configured.
type ClaudeCLI struct {
	bin     string
	model   string
	timeout time.Duration
}

// NewClaudeCLI creates a new Claude CLI client.
func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{
		bin:     "claude",
		model:   model,
		timeout: 120 * time.Second,
	}
}

// cliResult is the subset of `--output-format json` output we read.
type cliResult struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateText passes prompt as the system prompt and pipes content on stdin.
func (c *ClaudeCLI) GenerateText(ctx context.Context, prompt, content, model string) (*Response, error) {
	if model == "" {
		model = c.model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{"-p", "--model", model, "--max-turns", "1", "--output-format", "json"}
	if prompt != "" {
		args = append(args, "--system-prompt", prompt)
	}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("claude cli: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseCLIOutput(stdout.Bytes())
}

// parseCLIOutput reads the JSON envelope, falling back to plain text for
// CLI versions that ignore --output-format.
func parseCLIOutput(out []byte) (*Response, error) {
	var res cliResult
	if err := json.Unmarshal(out, &res); err != nil {
		return &Response{Content: strings.TrimSpace(string(out)), Provider: "claude-cli"}, nil
	}
	if res.IsError {
		return nil, fmt.Errorf("claude cli: %s", res.Result)
	}
	return &Response{
		Content:    strings.TrimSpace(res.Result),
		Provider:   "claude-cli",
		TokensUsed: res.Usage.InputTokens + res.Usage.OutputTokens,
	}, nil
}

// filterEnv drops CLAUDE_* variables so the child does not attach to the
// parent's session.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "CLAUDE_") {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
