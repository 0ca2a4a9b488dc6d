package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bobarin/slnpart/internal/providers"
)

// OpenAIImageService generates cover art with DALL-E 3.
type OpenAIImageService struct {
	client    *openai.Client
	artifacts Artifacts
	log       zerolog.Logger
}

func NewOpenAIImageService(apiKey string, artifacts Artifacts, log zerolog.Logger) *OpenAIImageService {
	return NewOpenAIImageServiceWithConfig(openai.DefaultConfig(apiKey), artifacts, log)
}

// NewOpenAIImageServiceWithConfig allows pointing the client at a different base URL.
func NewOpenAIImageServiceWithConfig(cfg openai.ClientConfig, artifacts Artifacts, log zerolog.Logger) *OpenAIImageService {
	return &OpenAIImageService{
		client:    openai.NewClientWithConfig(cfg),
		artifacts: artifacts,
		log:       log,
	}
}

func (s *OpenAIImageService) Name() string { return "openai" }

func (s *OpenAIImageService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	prompt := coverPrompt(req.Params)

	resp, err := s.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		Quality:        openai.CreateImageQualityStandard,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return providers.Outcome{}, fmt.Errorf("no image data returned from openai")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	if err := s.artifacts.Write(req.OutputPath, data); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to save image: %w", err)
	}

	s.log.Info().Str("job_id", req.JobID.String()).Int("bytes", len(data)).Msg("cover generated")
	return providers.Immediate(req.OutputPath), nil
}
