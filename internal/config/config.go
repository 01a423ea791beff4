// Package config loads and validates docengine configuration.
//
// Sources, highest priority first:
//  1. Environment variables (DATABASE_URL and DOCENGINE_* overrides)
//  2. Config file (~/.docengine/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast: Load returns sentinel errors checkable with
// errors.Is, and the process refuses to start on an invalid config.
// Sensitive values (postgres password) are masked in MarshalJSON/String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AI provider identifiers accepted in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Chunking defaults match the ingestion contract: 1000-char chunks with a
// 200-char overlap, measured in characters rather than tokens.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// DefaultEmbeddingDim is the vector dimensionality fixed per deployment.
	// Must match the vector(N) column in db/migrations.
	DefaultEmbeddingDim = 1536
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when
// adding new secrets.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`             // "gemini" (default), "ollama", "openai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // chat model identifier
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // embedding model identifier
	EmbeddingDim  int    `mapstructure:"embedding_dim" json:"embedding_dim"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Retrieval configuration
	ChunkSize     int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	SearchTopK    int     `mapstructure:"search_top_k" json:"search_top_k"`
	SearchMinScore float32 `mapstructure:"search_min_score" json:"search_min_score"`

	// Conversation cache configuration
	MaxConversations   int `mapstructure:"max_conversations" json:"max_conversations"`
	MaxHistoryMessages int `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Object graph service (resolves tenants, documents, permissions)
	GraphBaseURL string `mapstructure:"graph_base_url" json:"graph_base_url"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst (0 = default)

	// Tracing (optional; exporter failure never blocks startup)
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// OTLPConfig configures the OTLP HTTP trace exporter.
type OTLPConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load reads configuration from all sources and validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docengine")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", "gemini-embedding-001")
	viper.SetDefault("embedding_dim", DefaultEmbeddingDim)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("search_top_k", 5)
	viper.SetDefault("search_min_score", 0.7)

	viper.SetDefault("max_conversations", 1024)
	viper.SetDefault("max_history_messages", 10)

	viper.SetDefault("graph_base_url", "http://localhost:8080")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "docengine")
	viper.SetDefault("postgres_password", "docengine_dev_password")
	viper.SetDefault("postgres_db_name", "docengine")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("listen_addr", ":8090")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("otlp.agent_host", "localhost:4318")
	viper.SetDefault("otlp.environment", "dev")
	viper.SetDefault("otlp.service_name", "docengine")
}

// bindEnvVariables binds runtime overrides. API keys (GEMINI_API_KEY,
// OPENAI_API_KEY) are read directly by the Genkit plugins, not via viper;
// Validate only checks their presence for the selected provider.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "DOCENGINE_PROVIDER")
	mustBind("model_name", "DOCENGINE_MODEL_NAME")
	mustBind("embedder_model", "DOCENGINE_EMBEDDER_MODEL")
	mustBind("ollama_host", "DOCENGINE_OLLAMA_HOST")
	mustBind("graph_base_url", "DOCENGINE_GRAPH_URL")
	mustBind("listen_addr", "DOCENGINE_LISTEN_ADDR")
	mustBind("cors_origins", "DOCENGINE_CORS_ORIGINS")
	mustBind("trust_proxy", "DOCENGINE_TRUST_PROXY")
	mustBind("rate_burst", "DOCENGINE_RATE_BURST")
}

// maskedValue uses full-width blocks so masked output can never be a
// substring of the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep two characters on each end for debuggability.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "googleai/gemini-2.5-flash" or "ollama/llama3.3".
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return "ollama/" + c.ModelName
	case ProviderOpenAI:
		return "openai/" + c.ModelName
	default:
		return "googleai/" + c.ModelName
	}
}
