package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultMaxUploadSize = 16 * 1024 * 1024
	DefaultGeminiModel   = "gemini-2.5-flash"
)

type Config struct {
	LogConfig  logger.LogConfig `json:"log_config"`
	Database   DatabaseConfig   `json:"database"`
	IndexStore IndexStoreConfig `json:"index_store"`
	FileStore  FileStoreConfig  `json:"file_store"`
	Chunker    ChunkerConfig    `json:"chunker"`
	TermModel  TermModelConfig  `json:"term_model"`
	AI         AIConfig         `json:"ai"`
	Upload     UploadConfig     `json:"upload"`
	Schedule   ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Path     string `json:"path"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// IndexStoreConfig selects a snapshot backend; Data is decoded by the
// backend itself.
type IndexStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FileStoreConfig selects where uploaded originals are kept.
type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ChunkerConfig struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

type TermModelConfig struct {
	IDFMode string `json:"idf_mode"`
}

type AIConfig struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	Data            interface{} `json:"data"`
	Fallbacks       []AIBackend `json:"fallbacks"`
	Timeout         int         `json:"timeout"`
	Retries         int         `json:"retries"`
	CacheSize       int         `json:"cache_size"`
	CacheTTLSeconds int         `json:"cache_ttl_seconds"`
}

// AIBackend is an extra provider tried when the primary one fails.
type AIBackend struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type UploadConfig struct {
	MaxBytes int64 `json:"max_bytes"`
}

type ScheduleConfig struct {
	PendingSpec string `json:"pending_spec"`
	Batch       int    `json:"batch"`
	// RebuildSpec re-weights the index periodically; empty disables it.
	RebuildSpec string `json:"rebuild_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := LoadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv reads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() error {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}

	if c.IndexStore.Type == "" {
		c.IndexStore.Type = "local"
	}
	if c.IndexStore.Data == nil {
		if c.IndexStore.Type != "local" {
			return fmt.Errorf("index_store.data is required for %s store", c.IndexStore.Type)
		}
		c.IndexStore.Data = map[string]interface{}{"path": "data/vector_index.json"}
	}

	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	if c.FileStore.Data == nil {
		if c.FileStore.Type != "local" {
			return fmt.Errorf("file_store.data is required for %s store", c.FileStore.Type)
		}
		c.FileStore.Data = map[string]interface{}{"dir": "data/uploads"}
	}

	if c.Chunker.ChunkSize == 0 {
		c.Chunker.ChunkSize = DefaultChunkSize
	}
	if c.Chunker.Overlap == 0 {
		c.Chunker.Overlap = DefaultChunkOverlap
	}
	if c.Chunker.ChunkSize < 0 || c.Chunker.Overlap < 0 {
		return fmt.Errorf("chunker.chunk_size and chunker.overlap must be positive")
	}

	switch strings.ToLower(c.TermModel.IDFMode) {
	case "":
		c.TermModel.IDFMode = "batch"
	case "batch", "corpus":
	default:
		return fmt.Errorf("term_model.idf_mode must be batch or corpus")
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.AI.Model == "" && strings.EqualFold(c.AI.Provider, "gemini") {
		c.AI.Model = DefaultGeminiModel
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60
	}
	if c.AI.Retries == 0 {
		c.AI.Retries = 2
	}
	if c.AI.CacheSize == 0 {
		c.AI.CacheSize = 128
	}
	if c.AI.CacheTTLSeconds == 0 {
		c.AI.CacheTTLSeconds = 600
	}
	c.AI.Data = withEnvAPIKey(c.AI.Provider, c.AI.Data)
	for i := range c.AI.Fallbacks {
		c.AI.Fallbacks[i].Data = withEnvAPIKey(c.AI.Fallbacks[i].Provider, c.AI.Fallbacks[i].Data)
	}

	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = DefaultMaxUploadSize
	}
	if c.Schedule.PendingSpec == "" {
		c.Schedule.PendingSpec = "@every 1m"
	}
	if c.Schedule.Batch == 0 {
		c.Schedule.Batch = 20
	}
	return nil
}

var apiKeyEnv = map[string]string{
	"gemini":     "GEMINI_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// withEnvAPIKey fills api_key from the provider's environment variable when
// the config leaves it empty.
func withEnvAPIKey(provider string, data interface{}) interface{} {
	env := apiKeyEnv[strings.ToLower(strings.TrimSpace(provider))]
	if env == "" {
		return data
	}
	key := os.Getenv(env)
	if key == "" {
		return data
	}
	m, ok := data.(map[string]interface{})
	if data == nil {
		m, ok = map[string]interface{}{}, true
	}
	if !ok {
		return data
	}
	if v, _ := m["api_key"].(string); v != "" {
		return m
	}
	m["api_key"] = key
	return m
}
