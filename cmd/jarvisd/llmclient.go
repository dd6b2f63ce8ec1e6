package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/circuitbreaker"
)

// httpLLMClient calls an external, already-running completion service
// (llama.cpp-server's /completion, or any OpenAI-completions-compatible
// endpoint) over HTTP. It deliberately does not load or manage a model:
// the local LLM runtime and the model catalog/fetch pipeline are out of
// scope for this core (spec.md Non-goals) — grounded on
// original_source/backend/workflow/nodes/llm_worker_node.py only for the
// prompt/max_tokens/stop request shape, not its in-process llama_cpp.Llama
// load, which this deliberately does not reproduce.
type httpLLMClient struct {
	baseURL string
	client  *circuitbreaker.HTTPWrapper
}

// newHTTPLLMClient wraps the completion service's HTTP client in a
// circuit breaker (internal/circuitbreaker.HTTPWrapper) so a struggling
// service fails fast instead of piling up slow requests; llm_worker
// surfaces either kind of failure as llm_unavailable either way.
func newHTTPLLMClient(baseURL string, logger *zap.Logger) *httpLLMClient {
	return &httpLLMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: circuitbreaker.NewHTTPWrapper(
			&http.Client{Timeout: 30 * time.Second}, "llm_service", "llm_service", logger),
	}
}

type completionRequest struct {
	Prompt    string   `json:"prompt"`
	NPredict  int      `json:"n_predict"`
	Stop      []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Complete implements workflow.LLMClient.
func (c *httpLLMClient) Complete(ctx context.Context, prompt string, maxTokens int, stop []string) (string, error) {
	body, err := json.Marshal(completionRequest{Prompt: prompt, NPredict: maxTokens, Stop: stop})
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: read response: %w", err)
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("llmclient: decode response: %w", err)
	}
	return out.Content, nil
}
