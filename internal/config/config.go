package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// Backend names.
const (
	BackendElasticsearch = "elasticsearch"
	BackendLocal         = "local"
)

// Config is the complete pdfrag configuration.
type Config struct {
	Version       int                 `yaml:"version" json:"version"`
	Backend       string              `yaml:"backend" json:"backend"`
	Chunking      ChunkingConfig      `yaml:"chunking" json:"chunking"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	Local         LocalConfig         `yaml:"local" json:"local"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings" json:"embeddings"`
	Ingest        IngestConfig        `yaml:"ingest" json:"ingest"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// ChunkingConfig configures the sliding word window.
type ChunkingConfig struct {
	WindowSize int `yaml:"window_size" json:"window_size"`
	Overlap    int `yaml:"overlap" json:"overlap"`
}

// RetrievalConfig configures fusion retrieval.
type RetrievalConfig struct {
	// Mode is "hybrid" or "elser_only".
	Mode string `yaml:"mode" json:"mode"`
	TopK int    `yaml:"top_k" json:"top_k"`

	// Each source is asked for max(top_k, top_k*FanOutMultiplier, MinCandidates) hits.
	FanOutMultiplier int `yaml:"fan_out_multiplier" json:"fan_out_multiplier"`
	MinCandidates    int `yaml:"min_candidates" json:"min_candidates"`

	// RRFConstant is K in 1/(K+rank).
	RRFConstant   int           `yaml:"rrf_constant" json:"rrf_constant"`
	SourceTimeout time.Duration `yaml:"source_timeout" json:"source_timeout"`

	BreakerMaxFailures int           `yaml:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerReset       time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// ElasticsearchConfig configures the remote index.
type ElasticsearchConfig struct {
	URL      string `yaml:"url" json:"url"`
	Index    string `yaml:"index" json:"index"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	APIKey   string `yaml:"api_key,omitempty" json:"-"`

	ElserInferenceID string `yaml:"elser_inference_id" json:"elser_inference_id"`
	// ElserModelID, when set, queries a deployed model instead of an inference endpoint.
	ElserModelID string `yaml:"elser_model_id" json:"elser_model_id"`
	PipelineID   string `yaml:"pipeline_id" json:"pipeline_id"`

	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LocalConfig configures the embedded on-disk backend.
type LocalConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// LexicalBackend is "sqlite" or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	// VectorBackend is "hnsw" or "chromem".
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static", "ollama" or "hugot".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	ModelDir   string `yaml:"model_dir" json:"model_dir"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
}

// IngestConfig configures folder ingestion.
type IngestConfig struct {
	Folder  string `yaml:"folder" json:"folder"`
	Workers int    `yaml:"workers" json:"workers"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Backend: BackendElasticsearch,
		Chunking: ChunkingConfig{
			WindowSize: 320,
			Overlap:    60,
		},
		Retrieval: RetrievalConfig{
			Mode:               "hybrid",
			TopK:               5,
			FanOutMultiplier:   2,
			MinCandidates:      20,
			RRFConstant:        60,
			SourceTimeout:      5 * time.Second,
			BreakerMaxFailures: 5,
			BreakerReset:       30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			URL:              "http://localhost:9200",
			Index:            "docs",
			ElserInferenceID: "my-elser-endpoint",
			PipelineID:       "elser-v2-mltokens",
			RequestTimeout:   30 * time.Second,
		},
		Local: LocalConfig{
			DataDir:        ".pdfrag",
			LexicalBackend: "sqlite",
			VectorBackend:  "hnsw",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "sentence-transformers/all-MiniLM-L6-v2",
			Dimensions: 384,
			OllamaHost: "http://localhost:11434",
			ModelDir:   defaultModelDir(),
			CacheSize:  1000,
			BatchSize:  32,
		},
		Ingest: IngestConfig{
			Folder:  "./data/pdfs",
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pdfrag", "models")
	}
	return filepath.Join(home, ".pdfrag", "models")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/pdfrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/pdfrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pdfrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "pdfrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "pdfrag", "config.yaml")
}

// ProjectConfigPath returns the project config file in dir, preferring
// .pdfrag.yaml over .pdfrag.yml. Empty if neither exists.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".pdfrag.yaml", ".pdfrag.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load builds the configuration for dir, in increasing precedence:
//  1. Defaults
//  2. User config (~/.config/pdfrag/config.yaml)
//  3. Project config (.pdfrag.yaml in dir)
//  4. Environment variables (see envOverrides)
//
// The result is validated before it is returned.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if p := GetUserConfigPath(); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	if p := ProjectConfigPath(dir); p != "" {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads defaults overlaid with a single file, then env and validation.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path on top of the current values, so keys absent from
// the file keep what earlier layers set. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}

	return nil
}

// Validate checks every field the retrieval core depends on.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return apperrors.ConfigError(fmt.Sprintf(field+" "+format, args...), nil).
			WithDetail("field", field)
	}

	switch c.Backend {
	case BackendElasticsearch, BackendLocal:
	default:
		return invalid("backend", "must be 'elasticsearch' or 'local', got %q", c.Backend)
	}

	if c.Chunking.WindowSize <= 0 {
		return invalid("chunking.window_size", "must be positive, got %d", c.Chunking.WindowSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.WindowSize {
		return invalid("chunking.overlap", "must be in [0, window_size), got %d", c.Chunking.Overlap)
	}

	r := c.Retrieval
	switch strings.ToLower(r.Mode) {
	case "hybrid", "elser_only", "elser":
	default:
		return invalid("retrieval.mode", "must be 'hybrid' or 'elser_only', got %q", r.Mode)
	}
	if r.TopK <= 0 {
		return invalid("retrieval.top_k", "must be positive, got %d", r.TopK)
	}
	if r.FanOutMultiplier < 1 {
		return invalid("retrieval.fan_out_multiplier", "must be at least 1, got %d", r.FanOutMultiplier)
	}
	if r.MinCandidates < 0 {
		return invalid("retrieval.min_candidates", "must be non-negative, got %d", r.MinCandidates)
	}
	if r.RRFConstant <= 0 {
		return invalid("retrieval.rrf_constant", "must be positive, got %d", r.RRFConstant)
	}
	if r.SourceTimeout <= 0 {
		return invalid("retrieval.source_timeout", "must be positive, got %s", r.SourceTimeout)
	}

	switch c.Local.LexicalBackend {
	case "sqlite", "bleve":
	default:
		return invalid("local.lexical_backend", "must be 'sqlite' or 'bleve', got %q", c.Local.LexicalBackend)
	}
	switch c.Local.VectorBackend {
	case "hnsw", "chromem":
	default:
		return invalid("local.vector_backend", "must be 'hnsw' or 'chromem', got %q", c.Local.VectorBackend)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama", "hugot":
	default:
		return invalid("embeddings.provider", "must be 'static', 'ollama' or 'hugot', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return invalid("embeddings.dimensions", "must be positive, got %d", c.Embeddings.Dimensions)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
