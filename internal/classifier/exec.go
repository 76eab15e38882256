package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
)

// execBackend runs a local command for each classification request, writing
// the prompt as JSON to stdin and reading {"content": ...} from stdout.
// Useful for local models behind a wrapper script.
type execBackend struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Content string `json:"content"`
}

func newExecBackend(command string) (*execBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (b *execBackend) Complete(ctx context.Context, req Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload := map[string]any{
		"prompt":      req.Prompt,
		"system":      req.System,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	base := b.cmd[0]
	args := append([]string{}, b.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: exec command failed: %v", ErrUnavailable, err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("%w: decode exec response: %v", ErrUnavailable, err)
	}
	return resp.Content, nil
}
