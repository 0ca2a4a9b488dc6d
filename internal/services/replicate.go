package services

import (
	"context"
	"fmt"

	"github.com/replicate/replicate-go"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/providers"
)

// ReplicateService runs a text-to-video model on Replicate as a prediction.
type ReplicateService struct {
	client  *replicate.Client
	version string
	log     zerolog.Logger
}

// NewReplicateService builds a client for the given API token. Extra options
// (base URL, HTTP client) are applied after the token.
func NewReplicateService(token, version string, log zerolog.Logger, opts ...replicate.ClientOption) (*ReplicateService, error) {
	client, err := replicate.NewClient(append([]replicate.ClientOption{replicate.WithToken(token)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create replicate client: %w", err)
	}
	return &ReplicateService{client: client, version: version, log: log}, nil
}

func (s *ReplicateService) Name() string { return "replicate" }

func (s *ReplicateService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	input := replicate.PredictionInput{
		"prompt":     videoPrompt(req.Params),
		"num_frames": 24,
		"width":      1024,
		"height":     576,
	}

	pred, err := s.client.CreatePrediction(ctx, s.version, input, nil, false)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to create prediction: %w", err)
	}
	if pred.ID == "" {
		return providers.Outcome{}, fmt.Errorf("no prediction id in response")
	}

	s.log.Info().Str("job_id", req.JobID.String()).Str("prediction", pred.ID).Msg("video prediction created")
	return providers.Deferred(pred.ID), nil
}

func (s *ReplicateService) Poll(ctx context.Context, id string) (providers.Outcome, error) {
	pred, err := s.client.GetPrediction(ctx, id)
	if err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to get prediction: %w", err)
	}

	switch pred.Status {
	case replicate.Succeeded:
		ref := firstOutput(pred.Output)
		if ref == "" {
			return providers.Failed("prediction succeeded without output"), nil
		}
		return providers.Immediate(ref), nil
	case replicate.Failed, replicate.Canceled:
		reason := "prediction " + string(pred.Status)
		if pred.Error != nil {
			reason += ": " + truncate(fmt.Sprint(pred.Error), 300)
		}
		return providers.Failed(reason), nil
	default:
		return providers.Deferred(id), nil
	}
}

// firstOutput returns the artifact URL. Models return a single URL or a list.
func firstOutput(out replicate.PredictionOutput) string {
	switch v := out.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
