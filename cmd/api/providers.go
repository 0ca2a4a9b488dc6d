package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/config"
	"github.com/bobarin/slnpart/internal/logger"
	"github.com/bobarin/slnpart/internal/media"
	"github.com/bobarin/slnpart/internal/providers"
	"github.com/bobarin/slnpart/internal/services"
	"github.com/bobarin/slnpart/internal/storage"
)

// registerProviders builds every provider whose credentials are configured.
// Local providers are always registered so each chain keeps its fallback.
func registerProviders(cfg *config.Config, stor *storage.Storage, log zerolog.Logger) ([]providers.Provider, error) {
	p := cfg.Provider
	runner := media.NewFFmpeg(logger.Component(log, "ffmpeg"))
	var registered []providers.Provider

	if p.OpenAIKey != "" {
		registered = append(registered, services.NewOpenAIImageService(p.OpenAIKey, stor, logger.Component(log, "openai")))
	}
	if p.GeminiKey != "" {
		registered = append(registered,
			services.NewGeminiImageService(p.GeminiKey, stor, logger.Component(log, "gemini")),
			services.NewVeoService(p.GeminiKey, p.VeoModel, stor, logger.Component(log, "veo")),
		)
	}
	if p.StabilityKey != "" {
		registered = append(registered, services.NewStabilityService(p.StabilityKey, stor, logger.Component(log, "stability")))
	}
	if p.XAIAPIKey != "" {
		registered = append(registered, services.NewXAIVideoService(p.XAIAPIKey, logger.Component(log, "xai")))
	}
	if p.ReplicateToken != "" {
		svc, err := services.NewReplicateService(p.ReplicateToken, p.ReplicateVideoVersion, logger.Component(log, "replicate"))
		if err != nil {
			return nil, fmt.Errorf("replicate: %w", err)
		}
		registered = append(registered, svc)
	}

	registered = append(registered,
		services.NewLocalCover(stor, logger.Component(log, "local-cover")),
		services.NewMasteringService(runner, cfg.Media.Timeout, logger.Component(log, "mastering")),
		services.NewPassthrough(stor, logger.Component(log, "passthrough")),
		services.NewLocalVideo(runner, cfg.Media.SynthTimeout, logger.Component(log, "local-video")),
	)

	for _, r := range registered {
		log.Info().Str("provider", r.Name()).Msg("provider registered")
	}
	return registered, nil
}
