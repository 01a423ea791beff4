// Package testutil holds test doubles shared across packages: a
// deterministic Genkit model and embedder, a scriptable permission graph,
// and a disposable pgvector database.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the fully qualified name MockModel registers under.
const MockModelName = "mock/test-model"

// MockEmbedderName is the name MockEmbedder registers under.
const MockEmbedderName = "mock/test-embedder"

// MockModel is a deterministic Genkit model for tests. It matches the last
// user message against registered substrings and answers with the paired
// response, recording every call. Safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []rule
	fallback string
	calls    []ModelCall
}

type rule struct {
	pattern  string
	response string
}

// ModelCall records one generation request as the mock saw it.
type ModelCall struct {
	System      string
	UserMessage string
	Messages    int
	Response    string
}

// NewMockModel creates a mock model answering fallback when nothing matches.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// Respond registers a substring pattern and its canned answer. Patterns are
// matched case-insensitively in registration order.
func (m *MockModel) Respond(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{pattern: strings.ToLower(pattern), response: response})
}

// Calls returns a copy of all recorded calls.
func (m *MockModel) Calls() []ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ModelCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// LastCall returns the most recent call, or a zero value when none happened.
func (m *MockModel) LastCall() ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ModelCall{}
	}
	return m.calls[len(m.calls)-1]
}

// Register defines the mock under MockModelName.
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var system, user string
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			system = msg.Text()
		}
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			user = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	response := m.fallback
	lower := strings.ToLower(user)
	for _, r := range m.rules {
		if strings.Contains(lower, r.pattern) {
			response = r.response
			break
		}
	}
	m.calls = append(m.calls, ModelCall{
		System:      system,
		UserMessage: user,
		Messages:    len(req.Messages),
		Response:    response,
	})
	m.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(response)},
		})
	}

	// Deterministic usage so token accounting is assertable.
	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(response)},
		},
		Usage: &ai.GenerationUsage{
			InputTokens:  len(user) / 4,
			OutputTokens: len(response) / 4,
			TotalTokens:  len(user)/4 + len(response)/4,
		},
	}, nil
}

// MockEmbedder returns deterministic unit vectors derived from content via
// SHA-256, so identical text always embeds identically. Explicit vectors can
// be pinned per content string to control cosine similarity precisely.
// Safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	pinned  map[string][]float32
	inputs  []string
	batches int
	dim     int
}

// NewMockEmbedder creates a mock embedder producing dim-dimensional vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{pinned: make(map[string][]float32), dim: dim}
}

// Pin fixes the vector returned for an exact content string.
func (e *MockEmbedder) Pin(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[content] = vec
}

// Inputs returns every text embedded so far, in call order.
func (e *MockEmbedder) Inputs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(e.inputs))
	copy(cp, e.inputs)
	return cp
}

// Batches returns how many embed requests were made.
func (e *MockEmbedder) Batches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

// Register defines the mock under MockEmbedderName.
func (e *MockEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, MockEmbedderName, &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	e.batches++
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		text := documentText(doc)
		e.inputs = append(e.inputs, text)
		vec, ok := e.pinned[text]
		if !ok {
			vec = hashVector(text, e.dim)
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	e.mu.Unlock()
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// hashVector derives a normalized vector from content. Same content, same
// vector, across processes.
func hashVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32], hash[(idx+1)%32], hash[(idx+2)%32], hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
