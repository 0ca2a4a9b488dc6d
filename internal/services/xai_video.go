package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/providers"
)

// ---------------------------------------------------------------------------
// xAI Grok Imagine Video Generation Service
// Submit returns the request_id as a deferred handle; Poll checks it once.
// ---------------------------------------------------------------------------

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiMinDuration       = 1  // xAI minimum video duration
	xaiMaxDuration       = 15 // xAI maximum video duration
	xaiDefaultResolution = "720p"
)

// XAIVideoService handles video generation via xAI's Grok Imagine Video API.
type XAIVideoService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewXAIVideoService(apiKey string, log zerolog.Logger) *XAIVideoService {
	return &XAIVideoService{
		apiKey:  apiKey,
		baseURL: xaiBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// xaiGenerationRequest is the body for POST /v1/videos/generations
type xaiGenerationRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

// xaiGenerationResponse is the response from POST /v1/videos/generations
type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult is the unified response from GET /v1/videos/{request_id}.
//
// xAI returns different shapes depending on state:
//   - Pending: {"status":"pending"}
//   - Completed: {"video":{"url":"...","duration":8},"model":"grok-imagine-video"}
//     (no "status" field when completed)
//   - Failed: {"status":"failed","error":"..."}
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func (s *XAIVideoService) Name() string { return "xai" }

// Generate submits the request and returns its request_id as a deferred handle.
// xAI clips are at most 15s; longer durations are clamped.
func (s *XAIVideoService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	durationSec := VideoDuration(req.Params)
	if durationSec < xaiMinDuration {
		durationSec = xaiMinDuration
	}
	if durationSec > xaiMaxDuration {
		durationSec = xaiMaxDuration
	}

	reqBody := xaiGenerationRequest{
		Prompt:      videoPrompt(req.Params),
		Model:       xaiVideoModel,
		Duration:    durationSec,
		AspectRatio: videoAspect(req.Params),
		Resolution:  xaiDefaultResolution,
	}

	requestID, err := s.submitGeneration(ctx, reqBody)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to submit video generation: %w", err)
	}

	s.log.Info().Str("job_id", req.JobID.String()).Str("request_id", requestID).Int("duration", durationSec).Msg("video generation submitted")
	return providers.Deferred(requestID), nil
}

// Poll checks a request_id once.
func (s *XAIVideoService) Poll(ctx context.Context, requestID string) (providers.Outcome, error) {
	result, err := s.getVideoResult(ctx, requestID)
	if err != nil {
		return providers.Outcome{}, err
	}

	// Completed responses carry a video object and no status field.
	if result.Video != nil && result.Video.URL != "" {
		return providers.Immediate(result.Video.URL), nil
	}

	switch result.Status {
	case "failed", "expired":
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return providers.Failed(fmt.Sprintf("video generation %s: %s", result.Status, errMsg)), nil
	default:
		return providers.Deferred(requestID), nil
	}
}

// submitGeneration sends the initial video generation request and returns the request_id.
func (s *XAIVideoService) submitGeneration(ctx context.Context, reqBody xaiGenerationRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("xAI returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w (body: %s)", err, truncate(string(body), 200))
	}

	if genResp.RequestID == "" {
		return "", fmt.Errorf("no request_id in generation response: %s", truncate(string(body), 200))
	}

	return genResp.RequestID, nil
}

// getVideoResult fetches the current status of a video generation request.
func (s *XAIVideoService) getVideoResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/videos/%s", s.baseURL, url.PathEscape(requestID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// xAI returns 202 with {"status":"pending"} while the video is being generated.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("xAI returned status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse video result: %w (body: %s)", err, truncate(string(body), 200))
	}

	return &result, nil
}
