package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/bobarin/slnpart/internal/providers"
)

// ---------------------------------------------------------------------------
// Veo Video Generation Service
// Generate starts a long-running operation and returns its name as the handle.
// Poll fetches the operation once and downloads the video when it is done.
// ---------------------------------------------------------------------------

const defaultVeoModel = "veo-3.1-generate-preview"

// VeoService handles video generation via Google's Veo model.
type VeoService struct {
	apiKey    string
	model     string
	baseURL   string // empty selects the public Gemini endpoint
	artifacts Artifacts
	log       zerolog.Logger
}

// NewVeoService creates a new Veo video generation service.
// apiKey is the Gemini API key; an empty model defaults to veo-3.1-generate-preview.
func NewVeoService(apiKey, model string, artifacts Artifacts, log zerolog.Logger) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey:    apiKey,
		model:     model,
		artifacts: artifacts,
		log:       log,
	}
}

func (s *VeoService) Name() string { return "veo" }

func (s *VeoService) client(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      s.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: s.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

func (s *VeoService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	client, err := s.client(ctx)
	if err != nil {
		return providers.Outcome{}, err
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:    "16:9",
		NumberOfVideos: 1,
	}

	operation, err := client.Models.GenerateVideos(ctx, s.model, videoPrompt(req.Params), nil, config)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to start video generation: %w", err)
	}
	if operation.Name == "" {
		return providers.Outcome{}, fmt.Errorf("veo returned an operation without a name")
	}

	s.log.Info().Str("job_id", req.JobID.String()).Str("operation", operation.Name).Msg("video generation started")
	return providers.Deferred(operation.Name), nil
}

// Poll fetches the operation once. A finished operation's video is saved into
// the media store; the download is skipped when it is already there.
func (s *VeoService) Poll(ctx context.Context, handle string) (providers.Outcome, error) {
	dest := s.artifacts.Path("video", "veo-"+path.Base(handle)+".mp4")
	if s.artifacts.Exists(dest) {
		return providers.Immediate(dest), nil
	}

	client, err := s.client(ctx)
	if err != nil {
		return providers.Outcome{}, err
	}

	operation, err := client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: handle}, nil)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to poll operation: %w", err)
	}
	if !operation.Done {
		return providers.Deferred(handle), nil
	}

	// Operation-level errors (invalid request, quota exceeded)
	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return providers.Failed("video generation operation failed: " + truncate(string(errJSON), 300)), nil
	}
	if operation.Response == nil {
		return providers.Failed("no response in completed operation"), nil
	}

	// Responsible AI safety filters
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return providers.Failed(fmt.Sprintf("video blocked by safety filters: %s", reasons)), nil
	}

	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return providers.Failed("no videos in response"), nil
	}

	video := operation.Response.GeneratedVideos[0].Video
	videoBytes := video.VideoBytes
	if len(videoBytes) == 0 {
		videoBytes, err = client.Files.Download(ctx, genai.NewDownloadURIFromVideo(video), nil)
		if err != nil {
			return providers.Outcome{}, fmt.Errorf("failed to download generated video: %w", err)
		}
	}
	if len(videoBytes) == 0 {
		return providers.Outcome{}, fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	if err := s.artifacts.Write(dest, videoBytes); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to save video: %w", err)
	}

	s.log.Info().Str("operation", handle).Int("bytes", len(videoBytes)).Msg("video downloaded")
	return providers.Immediate(dest), nil
}
