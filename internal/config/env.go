package config

import (
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// envOverrides lists the environment variables that override file config.
// The unprefixed names match the ones existing deployments already export.
type envOverrides struct {
	Backend string `env:"PDFRAG_BACKEND"`
	DataDir string `env:"PDFRAG_DATA_DIR"`

	ElasticURL       string `env:"ELASTIC_URL"`
	ElasticIndex     string `env:"ELASTIC_INDEX"`
	ElasticUsername  string `env:"ELASTIC_USERNAME"`
	ElasticPassword  string `env:"ELASTIC_PASSWORD"`
	ElasticAPIKey    string `env:"ELASTIC_API_KEY"`
	ElserInferenceID string `env:"ELSER_INFERENCE_ID"`
	ElserModelID     string `env:"ELSER_MODEL_ID"`
	ElserPipelineID  string `env:"ELSER_PIPELINE_ID"`

	RetrievalMode string        `env:"RETRIEVAL_MODE"`
	TopK          int           `env:"TOP_K"`
	RRFConstant   int           `env:"PDFRAG_RRF_CONSTANT"`
	SourceTimeout time.Duration `env:"PDFRAG_SOURCE_TIMEOUT"`

	EmbedProvider string `env:"EMBED_PROVIDER"`
	EmbedModel    string `env:"EMBED_MODEL"`
	OllamaHost    string `env:"OLLAMA_HOST"`

	PDFFolder string `env:"PDF_FOLDER"`
	LogLevel  string `env:"PDFRAG_LOG_LEVEL"`
}

// applyEnvOverrides copies every set variable onto c.
// Zero values mean "unset"; validation catches nonsense afterwards.
func (c *Config) applyEnvOverrides() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return apperrors.ConfigError("invalid environment override", err)
	}

	setString(&c.Backend, o.Backend)
	setString(&c.Local.DataDir, o.DataDir)

	setString(&c.Elasticsearch.URL, o.ElasticURL)
	setString(&c.Elasticsearch.Index, o.ElasticIndex)
	setString(&c.Elasticsearch.Username, o.ElasticUsername)
	setString(&c.Elasticsearch.Password, o.ElasticPassword)
	setString(&c.Elasticsearch.APIKey, o.ElasticAPIKey)
	setString(&c.Elasticsearch.ElserInferenceID, o.ElserInferenceID)
	setString(&c.Elasticsearch.ElserModelID, o.ElserModelID)
	setString(&c.Elasticsearch.PipelineID, o.ElserPipelineID)

	setString(&c.Retrieval.Mode, o.RetrievalMode)
	if o.TopK != 0 {
		c.Retrieval.TopK = o.TopK
	}
	if o.RRFConstant != 0 {
		c.Retrieval.RRFConstant = o.RRFConstant
	}
	if o.SourceTimeout != 0 {
		c.Retrieval.SourceTimeout = o.SourceTimeout
	}

	setString(&c.Embeddings.Provider, o.EmbedProvider)
	setString(&c.Embeddings.Model, o.EmbedModel)
	setString(&c.Embeddings.OllamaHost, o.OllamaHost)

	setString(&c.Ingest.Folder, o.PDFFolder)
	setString(&c.Logging.Level, o.LogLevel)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadDotEnv exports the variables in dir/.env. Variables already set in
// the environment win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return apperrors.ConfigError("failed to read .env file", err).WithDetail("path", path)
	}
	return nil
}
