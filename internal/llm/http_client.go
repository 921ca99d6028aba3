package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient embeds through the Ollama embeddings API.
type HTTPClient struct {
	BaseURL    string
	Model      string
	TargetDim  int
	Prefixes   Prefixes
	HTTPClient *http.Client
}

func NewHTTPClient(baseURL, model string, targetDim int, prefixes Prefixes) *HTTPClient {
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Model:     model,
		TargetDim: targetDim,
		Prefixes:  prefixes,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// EmbedRequest follows Ollama API format
type EmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *HTTPClient) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	jsonData, err := json.Marshal(EmbedRequest{
		Model:  c.Model,
		Prompt: c.Prefixes.apply(text, role),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %s", resp.Status)
	}

	var result EmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding for %s input", role)
	}

	vec := result.Embedding

	// Matryoshka truncation needs a re-normalization
	if c.TargetDim > 0 && len(vec) > c.TargetDim {
		vec = normalize(vec[:c.TargetDim])
	}
	if c.TargetDim > 0 && len(vec) != c.TargetDim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), c.TargetDim)
	}

	return vec, nil
}

func (c *HTTPClient) Close() error {
	return nil
}
