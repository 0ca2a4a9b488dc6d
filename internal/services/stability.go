package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/providers"
)

const stabilityURL = "https://api.stability.ai/v2beta/stable-image/generate/sd3"

// StabilityService generates cover art with Stable Diffusion 3.
type StabilityService struct {
	apiKey    string
	url       string
	client    *http.Client
	artifacts Artifacts
	log       zerolog.Logger
}

func NewStabilityService(apiKey string, artifacts Artifacts, log zerolog.Logger) *StabilityService {
	return &StabilityService{
		apiKey:    apiKey,
		url:       stabilityURL,
		client:    &http.Client{Timeout: 120 * time.Second},
		artifacts: artifacts,
		log:       log,
	}
}

func (s *StabilityService) Name() string { return "stability" }

func (s *StabilityService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"prompt":        coverPrompt(req.Params),
		"output_format": "png",
		"aspect_ratio":  "1:1",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return providers.Outcome{}, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Accept", "image/*")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return providers.Outcome{}, fmt.Errorf("stability returned status %d: %s", resp.StatusCode, truncate(string(data), 300))
	}
	if len(data) == 0 {
		return providers.Outcome{}, fmt.Errorf("stability returned an empty image")
	}

	if err := s.artifacts.Write(req.OutputPath, data); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to save image: %w", err)
	}

	s.log.Info().Str("job_id", req.JobID.String()).Int("bytes", len(data)).Msg("cover generated")
	return providers.Immediate(req.OutputPath), nil
}
