package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/media"
	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/providers"
)

// ---------------------------------------------------------------------------
// Mastering templates: a base filter chain per template, followed by optional
// three-band EQ and loudness normalisation.
// ---------------------------------------------------------------------------

const DefaultMasteringTemplate = "Radio Ready"

var masteringTemplates = map[string][]string{
	"Radio Ready":    {"volume=2dB"},
	"Club Banger":    {"volume=4dB", "lowpass=f=8000"},
	"Vintage Warmth": {"highpass=f=80", "volume=-1dB"},
	"Vocal Focused":  {"highpass=f=100", "volume=1dB"},
	"Bass Heavy":     {"volume=3dB"},
}

// MasteringTemplates lists the accepted template names in a stable order.
func MasteringTemplates() []string {
	names := make([]string, 0, len(masteringTemplates))
	for name := range masteringTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidMasteringTemplate reports whether name is a known template. Empty
// selects the default.
func ValidMasteringTemplate(name string) bool {
	if name == "" {
		return true
	}
	_, ok := masteringTemplates[name]
	return ok
}

// eqBands maps the eq_settings keys to equalizer center frequencies.
var eqBands = []struct {
	key  string
	freq int
}{
	{"low", 100},
	{"mid", 1000},
	{"high", 10000},
}

// eqGains reads eq_settings whether it came from a decoded request or from
// the JSON column.
func eqGains(v interface{}) map[string]float64 {
	switch m := v.(type) {
	case map[string]float64:
		return m
	case map[string]interface{}:
		gains := make(map[string]float64, len(m))
		for k, g := range m {
			if f, ok := g.(float64); ok {
				gains[k] = f
			}
		}
		return gains
	}
	return nil
}

// masteringFilter builds the -af chain for a template and EQ gains.
func masteringFilter(template string, eq map[string]float64) string {
	chain, ok := masteringTemplates[template]
	if !ok {
		chain = masteringTemplates[DefaultMasteringTemplate]
	}
	filters := append([]string{}, chain...)

	for _, band := range eqBands {
		gain := eq[band.key]
		if gain == 0 {
			continue
		}
		if gain > 12 {
			gain = 12
		}
		if gain < -12 {
			gain = -12
		}
		filters = append(filters, fmt.Sprintf("equalizer=f=%d:t=q:w=1:g=%g", band.freq, gain))
	}

	filters = append(filters, "loudnorm=I=-14:TP=-1:LRA=11")
	return strings.Join(filters, ",")
}

// MasteringService masters an uploaded vocal with ffmpeg.
type MasteringService struct {
	runner  media.Runner
	timeout time.Duration
	log     zerolog.Logger
}

func NewMasteringService(runner media.Runner, timeout time.Duration, log zerolog.Logger) *MasteringService {
	return &MasteringService{runner: runner, timeout: timeout, log: log}
}

func (s *MasteringService) Name() string { return "ffmpeg-master" }

func (s *MasteringService) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	if req.SourcePath == "" {
		return providers.Outcome{}, fmt.Errorf("no uploaded audio to master")
	}

	af := masteringFilter(req.Params.String(models.ParamTemplate), eqGains(req.Params[models.ParamEQSettings]))

	args := []string{
		"-y",
		"-i", req.SourcePath,
		"-af", af,
		"-codec:a", "libmp3lame",
		"-b:a", "320k",
		req.OutputPath,
	}

	s.log.Info().Str("job_id", req.JobID.String()).Str("filter", af).Msg("mastering audio")
	out, err := s.runner.Run(ctx, media.Command{Args: args, Output: req.OutputPath, Timeout: s.timeout})
	if err != nil {
		return providers.Outcome{}, err
	}
	return providers.Immediate(out), nil
}

// Passthrough copies the uploaded audio unchanged. It is the last resort of
// the mastering chain and only fails on local I/O errors.
type Passthrough struct {
	artifacts Artifacts
	log       zerolog.Logger
}

func NewPassthrough(artifacts Artifacts, log zerolog.Logger) *Passthrough {
	return &Passthrough{artifacts: artifacts, log: log}
}

func (p *Passthrough) Name() string { return "passthrough" }

func (p *Passthrough) Local() bool { return true }

func (p *Passthrough) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	if req.SourcePath == "" {
		return providers.Outcome{}, fmt.Errorf("no uploaded audio to copy")
	}

	// keep the source container; the planned output name assumes mp3
	dst := strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath)) + strings.ToLower(filepath.Ext(req.SourcePath))
	if err := p.artifacts.Copy(dst, req.SourcePath); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to copy upload: %w", err)
	}

	p.log.Warn().Str("job_id", req.JobID.String()).Msg("mastering fell back to passthrough copy")
	return providers.Immediate(dst), nil
}

// ---------------------------------------------------------------------------
// Local video synthesis: a lavfi source per visual style, muxed with the
// uploaded track or a sine tone.
// ---------------------------------------------------------------------------

const (
	localVideoSize = "1280x720"
	localVideoRate = 25
)

// styleSource returns the lavfi input and video filter for a visual style.
func styleSource(style string) (string, string) {
	size := fmt.Sprintf("size=%s:rate=%d", localVideoSize, localVideoRate)
	switch strings.ToLower(style) {
	case "cyberpunk":
		return "mandelbrot=" + size + ":maxiter=100", "colorchannelmixer=rr=0.3:gg=0.1:bb=0.8:aa=1"
	case "cinematic":
		return "rgbtestsrc=" + size, "colorchannelmixer=rr=0.8:gg=0.5:bb=0.2:aa=1,hue=h=30:s=0.8"
	case "abstract":
		return "smptebars=" + size, "colorchannelmixer=rr=0.9:gg=0.2:bb=0.8:aa=1,rotate=angle=PI*t/5"
	case "fantasy":
		return "gradients=" + size + ":c0=purple:c1=pink:c2=gold", "colorchannelmixer=rr=0.9:gg=0.7:bb=0.9:aa=1,hue=h=60:s=1.2"
	default:
		return "testsrc=" + size, "colorchannelmixer=rr=0.2:gg=0.4:bb=0.9:aa=1"
	}
}

// LocalVideo renders a music video on this machine with ffmpeg. Unlike the
// other local providers it can fail, since it depends on the binary.
type LocalVideo struct {
	runner  media.Runner
	timeout time.Duration
	log     zerolog.Logger
}

func NewLocalVideo(runner media.Runner, timeout time.Duration, log zerolog.Logger) *LocalVideo {
	return &LocalVideo{runner: runner, timeout: timeout, log: log}
}

func (v *LocalVideo) Name() string { return "local-video" }

func (v *LocalVideo) Local() bool { return true }

func (v *LocalVideo) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	args := localVideoArgs(req.Params.String(models.ParamVisualStyle), VideoDuration(req.Params), req.SourcePath, req.OutputPath)

	v.log.Info().Str("job_id", req.JobID.String()).Str("style", req.Params.String(models.ParamVisualStyle)).Msg("rendering local video")
	out, err := v.runner.Run(ctx, media.Command{Args: args, Output: req.OutputPath, Timeout: v.timeout})
	if err != nil {
		return providers.Outcome{}, err
	}
	return providers.Immediate(out), nil
}

func localVideoArgs(style string, seconds int, audioPath, outputPath string) []string {
	src, vf := styleSource(style)
	duration := fmt.Sprintf("%d", seconds)

	args := []string{"-y", "-f", "lavfi", "-i", src}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	} else {
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=220:duration=%d", seconds))
	}

	args = append(args,
		"-map", "0:v",
		"-map", "1:a",
		"-vf", vf+",trim=duration="+duration,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-t", duration,
		"-shortest",
		outputPath,
	)
	return args
}
