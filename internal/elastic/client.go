// Package elastic is the Elasticsearch backend: index management, bulk
// ingestion, the lexical, dense and ELSER sparse retrieval sources, and
// ELSER provisioning.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
	"github.com/Aman-CERP/pdfrag/internal/logging"
)

// Config configures the client.
type Config struct {
	URL      string
	Index    string
	Username string
	Password string
	APIKey   string

	// InferenceID is the ELSER sparse_embedding endpoint.
	InferenceID string
	// ModelID, when set, is used for text_expansion instead of InferenceID.
	ModelID    string
	PipelineID string

	// Dimensions of the dense_vector field.
	Dimensions     int
	RequestTimeout time.Duration

	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
}

// Client wraps the official client with the index it serves.
type Client struct {
	es     *elasticsearch.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a client. It does not contact the cluster.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperrors.ConfigError("elasticsearch url is required", nil)
	}
	if cfg.Index == "" {
		return nil, apperrors.ConfigError("elasticsearch index is required", nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "invalid elasticsearch configuration", err)
	}

	return &Client{es: es, cfg: cfg, logger: logger}, nil
}

// Index returns the index name.
func (c *Client) Index() string { return c.cfg.Index }

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return transportError("ping", err)
	}
	defer res.Body.Close()
	return checkResponse("ping", res)
}

// do sends a raw request for endpoints without a stable typed API and
// decodes a JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.es.Perform(req)
	if err != nil {
		return 0, transportError(method+" "+path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, transportError(method+" "+path, err)
	}
	if res.StatusCode >= 300 {
		return res.StatusCode, statusError(method+" "+path, res.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return res.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return res.StatusCode, nil
}

// jsonBody encodes v for an esapi request.
func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// decode checks res and decodes its body into out.
func decode(op string, res *esapi.Response, out any) error {
	defer res.Body.Close()
	if err := checkResponse(op, res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func checkResponse(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	data, _ := io.ReadAll(res.Body)
	return statusError(op, res.StatusCode, data)
}

// errorBody is the error envelope Elasticsearch returns.
type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func statusError(op string, status int, body []byte) error {
	reason := string(body)
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Reason != "" {
		reason = eb.Error.Type + ": " + eb.Error.Reason
	}

	code := apperrors.ErrCodeRemoteRejected
	if status == http.StatusTooManyRequests || status >= 500 {
		code = apperrors.ErrCodeNetworkUnavailable
	}
	return apperrors.New(code, fmt.Sprintf("elasticsearch %s failed: %s", op, reason), nil).
		WithDetail("status", strconv.Itoa(status))
}

func transportError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.New(apperrors.ErrCodeNetworkTimeout, "elasticsearch "+op+" timed out", err)
	}
	return apperrors.New(apperrors.ErrCodeNetworkUnavailable, "elasticsearch "+op+" failed", err).
		WithSuggestion("check that Elasticsearch is running and elasticsearch.url is correct")
}
