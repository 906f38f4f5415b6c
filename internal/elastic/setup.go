package elastic

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/Aman-CERP/pdfrag/internal/errors"
)

// SetupOptions selects the ELSER provisioning steps.
type SetupOptions struct {
	// StartTrial enables the trial license, which ML inference needs.
	StartTrial bool
	// Backfill runs the pipeline over documents already in the index.
	Backfill bool
	// Poll controls how long to wait for the endpoint to resolve.
	Poll apperrors.RetryConfig
}

// DefaultSetupOptions polls for about three minutes.
func DefaultSetupOptions() SetupOptions {
	return SetupOptions{
		StartTrial: true,
		Backfill:   true,
		Poll: apperrors.RetryConfig{
			MaxRetries:   90,
			InitialDelay: 2 * time.Second,
			MaxDelay:     2 * time.Second,
			Multiplier:   1,
		},
	}
}

// StepResult is the outcome of one setup step.
type StepResult struct {
	Step    string `json:"step"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Status  int    `json:"status,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// SetupReport lists every step run.
type SetupReport struct {
	Steps []StepResult `json:"steps"`
	// Updated is how many documents the backfill rewrote.
	Updated int `json:"updated"`
}

// OK reports whether every step succeeded.
func (r *SetupReport) OK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

func (r *SetupReport) add(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// Setup provisions ELSER: trial license, inference endpoint, readiness
// wait, ingest pipeline and token backfill. It stops at the first failing
// step after the license; a refused trial is recorded and setup goes on.
func (c *Client) Setup(ctx context.Context, opts SetupOptions) (*SetupReport, error) {
	report := &SetupReport{}

	if opts.StartTrial {
		report.add(c.startTrial(ctx))
	}

	step, err := c.putInferenceEndpoint(ctx)
	report.add(step)
	if err != nil {
		return report, err
	}

	step, err = c.waitEndpointReady(ctx, opts.Poll)
	report.add(step)
	if err != nil {
		return report, err
	}

	step, err = c.putPipeline(ctx)
	report.add(step)
	if err != nil {
		return report, err
	}

	if opts.Backfill {
		var updated int
		step, updated, err = c.backfill(ctx)
		report.add(step)
		report.Updated = updated
		if err != nil {
			return report, err
		}
	}

	c.logger.Info("elser_setup_complete",
		slog.String("endpoint", c.cfg.InferenceID),
		slog.String("pipeline", c.cfg.PipelineID),
		slog.Int("backfilled", report.Updated))
	return report, nil
}

// startTrial treats 400 as success: the trial is already active or used.
func (c *Client) startTrial(ctx context.Context) StepResult {
	step := StepResult{Step: "trial_license"}

	res, err := c.es.License.PostStartTrial(
		c.es.License.PostStartTrial.WithAcknowledge(true),
		c.es.License.PostStartTrial.WithContext(ctx))
	if err != nil {
		step.Detail = err.Error()
		return step
	}
	defer res.Body.Close()

	step.Status = res.StatusCode
	switch res.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		step.OK = true
	case http.StatusBadRequest:
		step.OK = true
		step.Detail = "trial already active"
	default:
		step.Detail = "license endpoint returned " + res.Status()
	}
	return step
}

func (c *Client) inferencePath() string {
	return "/_inference/sparse_embedding/" + url.PathEscape(c.cfg.InferenceID)
}

// putInferenceEndpoint creates the endpoint; an existing one is reused.
func (c *Client) putInferenceEndpoint(ctx context.Context) (StepResult, error) {
	step := StepResult{Step: "inference_endpoint"}
	if c.cfg.InferenceID == "" {
		return step, apperrors.ConfigError("elasticsearch.elser_inference_id is required for setup", nil)
	}

	body := map[string]any{
		"service": "elser",
		"service_settings": map[string]any{
			"num_allocations": 1,
			"num_threads":     1,
		},
	}
	status, err := c.do(ctx, http.MethodPut, c.inferencePath(), body, nil)
	step.Status = status
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "must be unique") {
			step.OK = true
			step.Detail = "endpoint already exists"
			return step, nil
		}
		step.Detail = err.Error()
		return step, err
	}
	step.OK = true
	step.Detail = "created"
	return step, nil
}

// waitEndpointReady polls until the endpoint resolves. The model may still
// be warming up afterwards; ES queues requests until it is.
func (c *Client) waitEndpointReady(ctx context.Context, poll apperrors.RetryConfig) (StepResult, error) {
	step := StepResult{Step: "endpoint_ready"}

	attempts := 0
	err := apperrors.Retry(ctx, poll, func() error {
		attempts++
		status, err := c.do(ctx, http.MethodGet, c.inferencePath(), nil, nil)
		step.Status = status
		return err
	})
	if err != nil {
		step.Detail = err.Error()
		return step, apperrors.New(apperrors.ErrCodeNetworkTimeout, "ELSER endpoint did not become ready", err).
			WithDetail("endpoint", c.cfg.InferenceID)
	}
	step.OK = true
	if attempts > 1 {
		step.Detail = "ready after polling"
	}
	return step, nil
}

// putPipeline writes ELSER tokens for the text field into ml.tokens.
func (c *Client) putPipeline(ctx context.Context) (StepResult, error) {
	step := StepResult{Step: "ingest_pipeline"}
	if c.cfg.PipelineID == "" {
		return step, apperrors.ConfigError("elasticsearch.pipeline_id is required for setup", nil)
	}

	body, err := jsonBody(map[string]any{
		"processors": []any{
			map[string]any{
				"inference": map[string]any{
					"model_id": c.cfg.InferenceID,
					"input_output": []any{
						map[string]any{"input_field": "text", "output_field": "ml.tokens"},
					},
				},
			},
		},
	})
	if err != nil {
		return step, err
	}

	res, err := c.es.Ingest.PutPipeline(c.cfg.PipelineID, body, c.es.Ingest.PutPipeline.WithContext(ctx))
	if err != nil {
		step.Detail = err.Error()
		return step, transportError("put pipeline", err)
	}
	step.Status = res.StatusCode
	if err := decode("put pipeline", res, nil); err != nil {
		step.Detail = err.Error()
		return step, err
	}
	step.OK = true
	return step, nil
}

// PipelineExists reports whether the configured ingest pipeline exists.
func (c *Client) PipelineExists(ctx context.Context) (bool, error) {
	if c.cfg.PipelineID == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.es.Ingest.GetPipeline(
		c.es.Ingest.GetPipeline.WithPipelineID(c.cfg.PipelineID),
		c.es.Ingest.GetPipeline.WithContext(ctx))
	if err != nil {
		return false, transportError("get pipeline", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.IsError():
		return false, checkResponse("get pipeline", res)
	}
	return true, nil
}

// backfill runs the pipeline over every document in the index.
func (c *Client) backfill(ctx context.Context) (StepResult, int, error) {
	step := StepResult{Step: "backfill"}

	body, err := jsonBody(map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	if err != nil {
		return step, 0, err
	}

	res, err := c.es.UpdateByQuery([]string{c.cfg.Index},
		c.es.UpdateByQuery.WithBody(body),
		c.es.UpdateByQuery.WithPipeline(c.cfg.PipelineID),
		c.es.UpdateByQuery.WithConflicts("proceed"),
		c.es.UpdateByQuery.WithRefresh(true),
		c.es.UpdateByQuery.WithContext(ctx))
	if err != nil {
		step.Detail = err.Error()
		return step, 0, transportError("update by query", err)
	}
	step.Status = res.StatusCode

	var ur struct {
		Updated int `json:"updated"`
	}
	if err := decode("update by query", res, &ur); err != nil {
		step.Detail = err.Error()
		return step, 0, err
	}
	step.OK = true
	return step, ur.Updated, nil
}
