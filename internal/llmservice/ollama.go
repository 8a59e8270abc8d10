package llmservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/config"
)

// tagsResponse is the Ollama /api/tags response format.
type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// pullRequest is the Ollama /api/pull request format.
type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ListModels returns the models installed on the server. Only Ollama
// exposes a listing; other providers report the configured model.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.provider != config.ProviderOllama {
		return []string{c.model}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama: API returned status %d: %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		switch {
		case m.Name != "":
			names = append(names, m.Name)
		case m.Model != "":
			names = append(names, m.Model)
		default:
			names = append(names, "unknown")
		}
	}
	return names, nil
}

// ConnectionStatus is the result of a health check.
type ConnectionStatus struct {
	Success        bool     `json:"success"`
	Models         []string `json:"models,omitempty"`
	ModelAvailable bool     `json:"model_available"`
	Message        string   `json:"message"`
	Error          string   `json:"error,omitempty"`
}

// TestConnection checks that the server answers and whether the configured
// model is installed. It never returns an error; failures are reported in
// the status.
func (c *Client) TestConnection(ctx context.Context) ConnectionStatus {
	names, err := c.ListModels(ctx)
	if err != nil {
		log.Error().Err(err).Str("base_url", c.baseURL).Msg("Error connecting to LLM server")
		return ConnectionStatus{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to connect to LLM server",
		}
	}
	return ConnectionStatus{
		Success:        true,
		Models:         names,
		ModelAvailable: hasModel(names, c.model),
		Message:        "Connected successfully",
	}
}

// hasModel accepts "llama3" for an installed "llama3:latest".
func hasModel(names []string, model string) bool {
	if slices.Contains(names, model) {
		return true
	}
	if !strings.Contains(model, ":") {
		return slices.Contains(names, model+":latest")
	}
	return false
}

// PullModel downloads a model on the Ollama server and blocks until done.
func (c *Client) PullModel(ctx context.Context, model string) error {
	if c.provider != config.ProviderOllama {
		return fmt.Errorf("pull is not supported by provider %q", c.provider)
	}

	body, err := json.Marshal(pullRequest{Model: model, Stream: false})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulls can take minutes; the request context bounds them instead.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(msg))
	}
	log.Info().Str("model", model).Msg("Model pulled")
	return nil
}
