// Package llm talks to the language models that turn raw receipt text
// into structured fields: a local Ollama server by default, Google
// Gemini as the hosted alternative.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bonvision/receipt-processor/config"
)

// Low temperature for structured extraction.
const generateTemperature = 0.1

// OllamaResponse is the /api/generate reply shape.
type OllamaResponse struct {
	Response      string `json:"response"`
	Model         string `json:"model"`
	CreatedAt     string `json:"created_at,omitempty"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration,omitempty"`
	EvalCount     int    `json:"eval_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
	Error      string      `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type OllamaClient struct {
	endpoint   string
	model      string
	embedModel string
	httpClient *http.Client
}

func NewOllamaClient(cfg *config.LLMConfig) *OllamaClient {
	return &OllamaClient{
		endpoint:   strings.TrimRight(cfg.OllamaEndpoint, "/"),
		model:      cfg.OllamaModel,
		embedModel: cfg.EmbeddingModel,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *OllamaClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": generateTemperature,
		},
	}

	var result OllamaResponse
	if err := c.postJSON(ctx, "/api/generate", reqBody, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}

	return strings.TrimSpace(result.Response), nil
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	reqBody := map[string]interface{}{
		"model": c.embedModel,
		"input": text,
	}

	var result ollamaEmbedResponse
	if err := c.postJSON(ctx, "/api/embed", reqBody, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}

	// Newer servers answer with "embeddings", older ones with "embedding".
	if len(result.Embeddings) > 0 && len(result.Embeddings[0]) > 0 {
		return result.Embeddings[0], nil
	}
	if len(result.Embedding) > 0 {
		return result.Embedding, nil
	}
	return nil, fmt.Errorf("embed response missing embedding data")
}

// Ping verifies the Ollama server is reachable and returns the models
// it serves, so callers can warn when the configured one is absent.
func (c *OllamaClient) Ping(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *OllamaClient) postJSON(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	reqData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(reqData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
