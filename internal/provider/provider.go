// Package provider wraps the Genkit model and embedder behind the two
// operations the engine needs: embedding text and completing chat turns.
// All model access goes through this package so truncation and history
// windowing behave identically everywhere.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

var (
	// ErrProvider wraps upstream model or embedder failures.
	ErrProvider = errors.New("model provider")
	// ErrEmptyEmbedding means the embedder returned no vectors.
	ErrEmptyEmbedding = errors.New("embedder returned no embeddings")
)

const (
	// maxEmbedChars truncates embedding input. Roughly 2,000 tokens at
	// four characters per token, under every supported embedder's limit.
	maxEmbedChars = 8000

	// charsPerToken is the assumed average token length for embedding
	// usage estimates; the embed API reports no usage of its own.
	charsPerToken = 4

	// historyWindow is how many trailing conversation messages are sent
	// with a completion.
	historyWindow = 10
)

// Turn is one conversation message as the provider sees it.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Completion is one model answer with its usage accounting.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Client talks to the configured Genkit model and embedder.
type Client struct {
	g         *genkit.Genkit
	embedder  ai.Embedder
	modelName string
	logger    *slog.Logger
}

// New creates a provider client. modelName must be fully qualified
// (for example "googleai/gemini-2.5-flash").
func New(g *genkit.Genkit, embedder ai.Embedder, modelName string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{g: g, embedder: embedder, modelName: modelName, logger: logger}
}

// Embed returns the embedding vector for a single text. Input longer than
// the embedder limit is truncated, not rejected.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, _, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds all texts in one request, preserving order. Each text
// is truncated independently. The second return value estimates token usage
// per input: total characters at charsPerToken, divided evenly across the
// batch. An approximation, not billed-accurate.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	truncated := make([]string, len(texts))
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		truncated[i] = truncate(t, maxEmbedChars)
		docs[i] = ai.DocumentFromText(truncated[i], nil)
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: embed: %w", ErrProvider, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmptyEmbedding, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Embedding
	}
	return vectors, estimateTokens(truncated), nil
}

// estimateTokens spreads the batch's character count evenly across inputs.
func estimateTokens(texts []string) []int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	per := total / charsPerToken / len(texts)
	out := make([]int, len(texts))
	for i := range out {
		out[i] = per
	}
	return out
}

// Complete runs a single-shot completion without history.
func (c *Client) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: generate: %w", ErrProvider, err)
	}
	return c.completion(resp), nil
}

// CompleteWithHistory completes the conversation in history, which must
// already end with the user's newest message. Only the trailing window of
// messages is sent. contextBlock, when non-empty, is prefixed onto the most
// recent user turn inside the window; if the window holds no user turn the
// block is dropped rather than injected as a fake turn.
func (c *Client) CompleteWithHistory(ctx context.Context, system string, history []Turn, contextBlock string) (Completion, error) {
	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}

	lastUser := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role == "user" {
			lastUser = i
			break
		}
	}
	if contextBlock != "" && lastUser < 0 {
		c.logger.Warn("no user turn in history window, dropping retrieved context")
	}

	messages := make([]*ai.Message, 0, len(window))
	for i, turn := range window {
		content := turn.Content
		if i == lastUser && contextBlock != "" {
			content = contextBlock + "\n\n" + content
		}
		switch turn.Role {
		case "assistant":
			messages = append(messages, ai.NewModelTextMessage(content))
		default:
			messages = append(messages, ai.NewUserTextMessage(content))
		}
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: generate: %w", ErrProvider, err)
	}
	return c.completion(resp), nil
}

// completion extracts the answer and usage from a model response. Not every
// provider reports usage; missing usage yields zero tokens, not an error.
func (c *Client) completion(resp *ai.ModelResponse) Completion {
	out := Completion{Text: resp.Text(), Model: c.modelName}
	if resp.Usage != nil {
		out.TokensUsed = resp.Usage.TotalTokens
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	// Back off a partial rune at the boundary.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
