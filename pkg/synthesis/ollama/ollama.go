// Package ollama implements pkg/synthesis' Generator client on Ollama's chat
// API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knowledgeco/companion/pkg/faults"
	"github.com/knowledgeco/companion/pkg/synthesis"
)

const (
	// DefaultModel is the default chat model used for answer synthesis.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultMaxTokens caps the generated answer length.
	DefaultMaxTokens = 1024

	systemPrompt = "You are a reading companion. Answer the question using only " +
		"the numbered excerpts provided. If the excerpts do not contain the " +
		"answer, say so. Be concise."
)

// Generator wraps Ollama's chat API for answer synthesis.
type Generator struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// GeneratorConfig holds configuration for the Ollama generator.
type GeneratorConfig struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the chat model to use. Defaults to DefaultModel if empty.
	Model string

	// MaxTokens caps the generated answer length. Defaults to
	// DefaultMaxTokens if zero.
	MaxTokens int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// NewGenerator creates a new generator using Ollama's chat API.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Generator{
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Generate produces an answer grounded in the given passages.
func (g *Generator) Generate(ctx context.Context, question string, passages []synthesis.Passage) (string, error) {
	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(question, passages)},
		},
		Stream:  false,
		Options: chatOptions{Temperature: 0.1, NumPredict: g.maxTokens},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", synthesis.ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", synthesis.ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w: sending request: %v", faults.ErrTransient, synthesis.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: %w: ollama returned status %d: %s",
				faults.ErrTransient, synthesis.ErrUnavailable, resp.StatusCode, string(body))
		}
		return "", fmt.Errorf("%w: ollama returned status %d: %s", synthesis.ErrGeneration, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", synthesis.ErrGeneration, err)
	}

	answer := strings.TrimSpace(chatResp.Message.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", synthesis.ErrGeneration)
	}

	return answer, nil
}

// buildPrompt numbers each passage so the model can cite them by position.
func buildPrompt(question string, passages []synthesis.Passage) string {
	var b strings.Builder

	b.WriteString("Excerpts:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d]", i+1)
		if p.PageNumber > 0 {
			fmt.Fprintf(&b, " (page %d)", p.PageNumber)
		}
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)

	return b.String()
}

// Close releases resources held by the generator.
func (g *Generator) Close() error {
	return nil
}

var _ synthesis.Generator = (*Generator)(nil)
