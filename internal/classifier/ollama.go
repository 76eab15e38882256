package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/guardline-ai/guardline-core/internal/config"
)

// ollamaBackend talks to a local Ollama server. Unlike the chat-completions
// backend there is no quota or billing, so the only typed failures are rate
// limiting and unavailability.
type ollamaBackend struct {
	endpoint         string
	model            string
	client           *http.Client
	maxResponseBytes int64
}

func newOllamaBackend(cfg config.ClassifierConfig) *ollamaBackend {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaBackend{
		endpoint:         cfg.Endpoint,
		model:            model,
		maxResponseBytes: maxBytes,
		client:           &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (b *ollamaBackend) Complete(ctx context.Context, req Request) (string, error) {
	payload := ollamaRequest{
		Model:  b.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: ollama returned status %s", ErrRateLimited, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: ollama returned status %s", ErrUnavailable, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var decoded ollamaResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decoded.Response, nil
}
