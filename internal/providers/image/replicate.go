package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ReplicateOptions configures the Replicate adapter.
type ReplicateOptions struct {
	APIToken     string
	BaseURL      string
	Version      string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Replicate drives the Replicate predictions API: create a prediction, then
// poll until it reaches a terminal state. Without an API token it produces
// deterministic synthetic outputs.
type Replicate struct {
	apiToken     string
	baseURL      string
	version      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

func NewReplicate(opts ReplicateOptions) *Replicate {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.replicate.com/v1"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Replicate{
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		version:      opts.Version,
		pollInterval: opts.PollInterval,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger.With().Str("provider", "replicate").Logger(),
	}
}

type replicatePrediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

func (r *Replicate) Process(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if r.apiToken == "" {
		return r.synthetic(ctx, req)
	}

	pred, err := r.createPrediction(ctx, req)
	if err != nil {
		return nil, err
	}

	for {
		switch pred.Status {
		case "succeeded":
			return r.outputsFrom(pred, req), nil
		case "failed", "canceled":
			reason := pred.Error
			if reason == "" {
				reason = pred.Status
			}
			return nil, fmt.Errorf("replicate: prediction %s: %s", pred.ID, reason)
		}
		if err := sleepFor(ctx, r.pollInterval); err != nil {
			return nil, err
		}
		pred, err = r.getPrediction(ctx, pred.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (r *Replicate) createPrediction(ctx context.Context, req ProcessRequest) (*replicatePrediction, error) {
	body, err := json.Marshal(map[string]any{
		"version": r.version,
		"input": map[string]any{
			"image":    req.ImageKey,
			"style":    req.Style,
			"platform": req.Platform,
			"quality":  req.Quality,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+r.apiToken)
	httpReq.Header.Set("Content-Type", "application/json")
	return r.do(httpReq, http.StatusCreated)
}

func (r *Replicate) getPrediction(ctx context.Context, id string) (*replicatePrediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build poll request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+r.apiToken)
	return r.do(httpReq, http.StatusOK)
}

func (r *Replicate) do(req *http.Request, wantStatus int) (*replicatePrediction, error) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("replicate: status %d: %s", resp.StatusCode, truncateBody(payload))
	}
	var pred replicatePrediction
	if err := json.Unmarshal(payload, &pred); err != nil {
		return nil, fmt.Errorf("replicate: decode response: %w", err)
	}
	return &pred, nil
}

func (r *Replicate) outputsFrom(pred *replicatePrediction, req ProcessRequest) []Output {
	outputs := make([]Output, 0, len(pred.Output))
	for i, u := range pred.Output {
		outputs = append(outputs, Output{
			StorageKey: fmt.Sprintf("generated/%s/%s-%02d.png", req.JobID, req.Platform, i+1),
			URL:        u,
			Format:     "image/png",
			Width:      1024,
			Height:     1024,
		})
	}
	return outputs
}

func (r *Replicate) synthetic(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if err := sleepFor(ctx, 400*time.Millisecond); err != nil {
		return nil, err
	}
	r.logger.Debug().Str("job_id", req.JobID).Msg("api token missing, returning synthetic output")
	return []Output{{
		StorageKey: fmt.Sprintf("generated/%s/%s-synthetic.png", req.JobID, req.Platform),
		Format:     "image/png",
		Width:      1024,
		Height:     1024,
	}}, nil
}

var _ Processor = (*Replicate)(nil)
