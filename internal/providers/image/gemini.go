package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GeminiOptions configures the Gemini adapter.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Gemini transforms headshots through the Gemini generateContent endpoint.
// Without an API key it produces deterministic synthetic outputs so the
// worker stays operational in local and CI environments.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewGemini(opts GeminiOptions) *Gemini {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Gemini{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With().Str("provider", "gemini").Logger(),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Process(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if g.apiKey == "" {
		return g.synthetic(ctx, req)
	}

	prompt := fmt.Sprintf(
		"Transform the referenced headshot (%s) into a professional %s portrait sized for %s. Preserve facial identity.",
		req.ImageKey, req.Style, req.Platform,
	)
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, truncateBody(payload))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}

	var outputs []Output
	for _, cand := range decoded.Candidates {
		for i, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(part.InlineData.Data); err != nil {
				g.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("skipping malformed inline image")
				continue
			}
			outputs = append(outputs, Output{
				StorageKey: fmt.Sprintf("generated/%s/%s-%02d.png", req.JobID, req.Platform, i+1),
				Format:     normalizeMIME(part.InlineData.MimeType),
				Width:      1024,
				Height:     1024,
			})
		}
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("gemini: response contained no image candidates")
	}
	return outputs, nil
}

func (g *Gemini) synthetic(ctx context.Context, req ProcessRequest) ([]Output, error) {
	if err := sleepFor(ctx, 250*time.Millisecond); err != nil {
		return nil, err
	}
	g.logger.Debug().Str("job_id", req.JobID).Msg("api key missing, returning synthetic output")
	return []Output{{
		StorageKey: fmt.Sprintf("generated/%s/%s-synthetic.png", req.JobID, req.Platform),
		Format:     "image/png",
		Width:      1024,
		Height:     1024,
	}}, nil
}

func normalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "image/png"
	}
	return mime
}

func truncateBody(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ Processor = (*Gemini)(nil)
