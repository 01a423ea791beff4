package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes Validate for the ollama
// provider (no API key environment dependency).
func validConfig() *Config {
	return &Config{
		Provider:           ProviderOllama,
		ModelName:          "llama3.3",
		EmbedderModel:      "nomic-embed-text",
		EmbeddingDim:       DefaultEmbeddingDim,
		OllamaHost:         "http://localhost:11434",
		ChunkSize:          DefaultChunkSize,
		ChunkOverlap:       DefaultChunkOverlap,
		SearchTopK:         5,
		SearchMinScore:     0.7,
		MaxConversations:   1024,
		MaxHistoryMessages: 10,
		GraphBaseURL:       "http://localhost:8080",
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "docengine",
		PostgresPassword:   "test_password_1",
		PostgresDBName:     "docengine",
		PostgresSSLMode:    "disable",
	}
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateNil(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("expected ErrConfigNil, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedder},
		{"zero dimension", func(c *Config) { c.EmbeddingDim = 0 }, ErrInvalidEmbedder},
		{"tiny chunk size", func(c *Config) { c.ChunkSize = 10 }, ErrInvalidChunking},
		{"overlap >= size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, ErrInvalidChunking},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, ErrInvalidChunking},
		{"topK zero", func(c *Config) { c.SearchTopK = 0 }, ErrInvalidSearch},
		{"min score above 1", func(c *Config) { c.SearchMinScore = 1.5 }, ErrInvalidSearch},
		{"empty graph URL", func(c *Config) { c.GraphBaseURL = "" }, ErrInvalidGraphURL},
		{"bad port", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgres},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgres},
		{"deprecated sslmode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgres},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarshalJSONMasksPassword(t *testing.T) {
	c := validConfig()
	c.PostgresPassword = "super_secret_password"

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if strings.Contains(string(data), "super_secret_password") {
		t.Error("password leaked into JSON output")
	}
}

func TestStringMasksPassword(t *testing.T) {
	c := validConfig()
	c.PostgresPassword = "another_secret_99"
	if strings.Contains(c.String(), "another_secret_99") {
		t.Error("password leaked into String output")
	}
}

func TestMaskSecretShort(t *testing.T) {
	// Short secrets must be fully masked so no substring survives.
	got := maskSecret("abc123")
	if strings.Contains(got, "a") || strings.Contains(got, "3") {
		t.Errorf("short secret not fully masked: %q", got)
	}
	if maskSecret("") != "" {
		t.Error("empty secret should stay empty")
	}
}

func TestFullModelName(t *testing.T) {
	tests := []struct {
		provider, model, want string
	}{
		{ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{ProviderOllama, "llama3.3", "ollama/llama3.3"},
		{ProviderOpenAI, "gpt-4o", "openai/gpt-4o"},
		{ProviderGemini, "custom/already-qualified", "custom/already-qualified"},
	}
	for _, tt := range tests {
		c := &Config{Provider: tt.provider, ModelName: tt.model}
		if got := c.FullModelName(); got != tt.want {
			t.Errorf("FullModelName(%s, %s) = %q, want %q", tt.provider, tt.model, got, tt.want)
		}
	}
}

func TestPostgresConnectionStringQuoting(t *testing.T) {
	c := validConfig()
	c.PostgresPassword = "has spaces'and quotes"

	dsn := c.PostgresConnectionString()
	if !strings.Contains(dsn, `password='has spaces\'and quotes'`) {
		t.Errorf("password not quoted in DSN: %q", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	c := validConfig()
	u := c.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") || !strings.Contains(u, "sslmode=disable") {
		t.Errorf("unexpected URL: %q", u)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	c := validConfig()
	t.Setenv("DATABASE_URL", "postgres://u1:p1@db.example.com:6543/engine?sslmode=require")

	if err := c.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL: %v", err)
	}
	if c.PostgresHost != "db.example.com" || c.PostgresPort != 6543 ||
		c.PostgresUser != "u1" || c.PostgresPassword != "p1" ||
		c.PostgresDBName != "engine" || c.PostgresSSLMode != "require" {
		t.Errorf("DATABASE_URL not applied: %+v", c)
	}
}

func TestParseDatabaseURLBadScheme(t *testing.T) {
	c := validConfig()
	t.Setenv("DATABASE_URL", "mysql://u1:p1@host/db")
	if err := c.parseDatabaseURL(); err == nil {
		t.Error("expected error for non-postgres scheme")
	}
}
