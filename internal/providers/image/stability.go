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

// StabilityOptions configures the Stability adapter.
type StabilityOptions struct {
	APIKey     string
	BaseURL    string
	Engine     string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Stability submits a single generation request to the Stability REST API.
// Without an API key it produces deterministic synthetic outputs.
type Stability struct {
	apiKey     string
	baseURL    string
	engine     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewStability(opts StabilityOptions) *Stability {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.stability.ai/v1"
	}
	if opts.Engine == "" {
		opts.Engine = "stable-diffusion-xl-1024-v1-0"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Stability{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		engine:     opts.Engine,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With().Str("provider", "stability").Logger(),
	}
}

type stabilityResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (s *Stability) Process(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if s.apiKey == "" {
		return s.synthetic(ctx, req)
	}

	body, err := json.Marshal(map[string]any{
		"text_prompts": []map[string]any{
			{"text": fmt.Sprintf("professional %s headshot for %s, photorealistic, preserve identity", req.Style, req.Platform)},
		},
		"init_image": req.ImageKey,
		"cfg_scale":  7,
		"samples":    1,
	})
	if err != nil {
		return nil, fmt.Errorf("stability: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/generation/%s/image-to-image", s.baseURL, s.engine)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stability: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stability: request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("stability: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stability: status %d: %s", resp.StatusCode, truncateBody(payload))
	}

	var decoded stabilityResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("stability: decode response: %w", err)
	}

	var outputs []Output
	for i, artifact := range decoded.Artifacts {
		if artifact.FinishReason == "ERROR" || artifact.Base64 == "" {
			continue
		}
		outputs = append(outputs, Output{
			StorageKey: fmt.Sprintf("generated/%s/%s-%02d.png", req.JobID, req.Platform, i+1),
			Format:     "image/png",
			Width:      1024,
			Height:     1024,
		})
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("stability: response contained no artifacts")
	}
	return outputs, nil
}

func (s *Stability) synthetic(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if err := sleepFor(ctx, 300*time.Millisecond); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("job_id", req.JobID).Msg("api key missing, returning synthetic output")
	return []Output{{
		StorageKey: fmt.Sprintf("generated/%s/%s-synthetic.png", req.JobID, req.Platform),
		Format:     "image/png",
		Width:      1024,
		Height:     1024,
	}}, nil
}

var _ Processor = (*Stability)(nil)
