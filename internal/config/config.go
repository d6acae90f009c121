package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StoreDirEnv overrides StoreConfig.Dir when set.
const StoreDirEnv = "DOCQA_STORE_DIR"

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	Dimension   int                   `yaml:"dimension"`
	Concurrency int                   `yaml:"concurrency"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size       int    `yaml:"size"`
	Overlap    int    `yaml:"overlap"`
	LengthUnit string `yaml:"length_unit"`
	MaxChunks  int    `yaml:"max_chunks"`
}

// RedisConfig contains connection details for the Redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	Type    string       `yaml:"type"`
	Dir     string       `yaml:"dir"`
	TTLSecs int          `yaml:"ttl_secs"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

type RetrieverConfig struct {
	K int `yaml:"k"`
}

type RerankerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GrounderConfig configures answer highlighting.
type GrounderConfig struct {
	Similarity          string `yaml:"similarity"`
	HighlightCandidates int    `yaml:"highlight_candidates"`
}

// LLMConfig configures the chat model used for answers and re-ranking.
type LLMConfig struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	APIVersion  string `yaml:"api_version"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Store     StoreConfig     `yaml:"store"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Grounder  GrounderConfig  `yaml:"grounder"`
	LLM       LLMConfig       `yaml:"llm"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultStoreDir() string {
	return filepath.Join(os.TempDir(), "docqa-sessions")
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 384, Concurrency: 4},
		Chunker:   ChunkerConfig{Size: 500, Overlap: 50, LengthUnit: "chars", MaxChunks: 1000},
		Store:     StoreConfig{Type: "file", Dir: defaultStoreDir(), TTLSecs: 3600},
		Retriever: RetrieverConfig{K: 5},
		Reranker:  RerankerConfig{Enabled: true},
		Grounder:  GrounderConfig{Similarity: "token", HighlightCandidates: 2},
		LLM:       LLMConfig{Provider: "openai", APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4o-mini", TimeoutSecs: 60, MaxRetries: 2},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension <= 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Concurrency <= 0 {
		cfg.Embedder.Concurrency = 4
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Chunker.Size <= 0 {
		cfg.Chunker.Size = 500
	}
	if cfg.Chunker.Overlap < 0 {
		cfg.Chunker.Overlap = 50
	}
	if cfg.Chunker.LengthUnit == "" {
		cfg.Chunker.LengthUnit = "chars"
	}
	if cfg.Chunker.MaxChunks <= 0 {
		cfg.Chunker.MaxChunks = 1000
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = defaultStoreDir()
	}
	if cfg.Store.TTLSecs <= 0 {
		cfg.Store.TTLSecs = 3600
	}
	if cfg.Store.Type == "redis" && cfg.Store.Redis == nil {
		cfg.Store.Redis = &RedisConfig{Addr: "localhost:6379"}
	}
	if cfg.Retriever.K <= 0 {
		cfg.Retriever.K = 5
	}
	if cfg.Grounder.Similarity == "" {
		cfg.Grounder.Similarity = "token"
	}
	if cfg.Grounder.HighlightCandidates <= 0 {
		cfg.Grounder.HighlightCandidates = 2
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnv(cfg *AppConfig) {
	if dir := os.Getenv(StoreDirEnv); dir != "" {
		cfg.Store.Dir = dir
	}
}
