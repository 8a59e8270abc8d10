package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

type Config struct {
	DataDir    string         `yaml:"data_dir"`
	PromptsDir string         `yaml:"prompts_dir"`
	LLM        LLMConfig      `yaml:"llm"`
	EmbedLLM   LLMConfig      `yaml:"embed_llm"`
	RAG        RAGConfig      `yaml:"rag"`
	Database   DatabaseConfig `yaml:"database"`
	Log        LogConfig      `yaml:"log"`
}

// LLMConfig configures either the chat model or the embedding model.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Key         string   `yaml:"key"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Retries     int      `yaml:"retries"`
	Disabled    bool     `yaml:"disabled"`
	Dimension   int      `yaml:"dimension"`
	BatchSize   int      `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize           int    `yaml:"chunk_size"`
	ChunkOverlap        *int   `yaml:"chunk_overlap"`
	MaxChunksForContext int    `yaml:"max_chunks_for_context"`
	ContextMaxLength    int    `yaml:"context_max_length"`
	// EncryptionKey encrypts exported project snapshots; 32 bytes or empty.
	EncryptionKey string `yaml:"encryption_key"`
	// Compress gzips the persisted vector index and exported snapshots.
	Compress bool `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Defaults follow the reference deployment: a local Ollama, 500/50 token chunks.
const (
	DefaultDataDir          = "./data"
	DefaultPromptsDir       = "./prompts"
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultLLMModel         = "llama3:8b"
	DefaultEmbedModel       = "nomic-embed-text"
	DefaultEmbedDimension   = 768
	DefaultEmbedBatchSize   = 32
	DefaultTemperature      = 0.3
	DefaultMaxTokens        = 2000
	DefaultRetries          = 3
	DefaultChunkSize        = 500
	DefaultChunkOverlap     = 50
	DefaultMaxChunks        = 10
	DefaultContextMaxLength = 5000
)

// LoadConfig reads the yaml file at path. A missing file yields the defaults.
// A .env file in the working directory, when present, is loaded first and
// environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
		cfg.EmbedLLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MDR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MDR_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.LLM.Key == "" {
			cfg.LLM.Key = v
		}
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
	}
}

// ApplyDefaults fills every zero value with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.PromptsDir == "" {
		cfg.PromptsDir = DefaultPromptsDir
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOllama
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == ProviderOllama {
		cfg.LLM.BaseURL = DefaultOllamaURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultLLMModel
	}
	if cfg.LLM.Temperature == nil {
		temperature := DefaultTemperature
		cfg.LLM.Temperature = &temperature
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = DefaultMaxTokens
	}
	if cfg.LLM.Retries == 0 {
		cfg.LLM.Retries = DefaultRetries
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = ProviderOllama
	}
	cfg.EmbedLLM.Provider = strings.ToLower(cfg.EmbedLLM.Provider)
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == ProviderOllama {
		cfg.EmbedLLM.BaseURL = DefaultOllamaURL
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = DefaultEmbedModel
	}
	if cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = DefaultEmbedDimension
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = DefaultEmbedBatchSize
	}

	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = DefaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == nil || *cfg.RAG.ChunkOverlap < 0 {
		overlap := DefaultChunkOverlap
		cfg.RAG.ChunkOverlap = &overlap
	}
	if cfg.RAG.MaxChunksForContext == 0 {
		cfg.RAG.MaxChunksForContext = DefaultMaxChunks
	}
	if cfg.RAG.ContextMaxLength == 0 {
		cfg.RAG.ContextMaxLength = DefaultContextMaxLength
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Overlap returns the configured chunk overlap in tokens. Zero is a valid value.
func (r RAGConfig) Overlap() int {
	if r.ChunkOverlap == nil {
		return DefaultChunkOverlap
	}
	return *r.ChunkOverlap
}

// SamplingTemperature returns the configured temperature. Zero is a valid value.
func (l LLMConfig) SamplingTemperature() float64 {
	if l.Temperature == nil {
		return DefaultTemperature
	}
	return *l.Temperature
}

const redacted = "******"

// Redacted returns a copy of c that is safe to log: keys and passwords are
// masked, as is the password in the database DSN.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.LLM.Key = mask(c.LLM.Key)
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.Database.Password = mask(c.Database.Password)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	if u, err := url.Parse(c.Database.DSN); err == nil {
		c.Database.DSN = u.Redacted()
	}
	return c
}

// VectorDBPath is where the persistent vector index lives.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.DataDir, "chromem_db")
}
