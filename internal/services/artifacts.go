package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/slnpart/internal/models"
)

// Artifacts is the part of the local artifact store providers write into.
type Artifacts interface {
	Write(path string, data []byte) error
	Copy(dst, src string) error
	Download(ctx context.Context, url, dest string) error
	Path(dir, name string) string
	Exists(ref string) bool
}

// coverPrompt builds the image prompt for remote cover art providers.
func coverPrompt(p models.JSONB) string {
	prompt := strings.TrimSpace(p.String(models.ParamPrompt))
	if prompt == "" {
		prompt = fmt.Sprintf("%s album artwork titled '%s' by %s", p.String(models.ParamGenre), p.String(models.ParamAlbumTitle), p.String(models.ParamArtistName))
	}
	enhanced := fmt.Sprintf("Professional album cover art: %s. High quality, detailed artwork suitable for a music album cover, square format, no text overlays", prompt)
	if !p.Bool(models.ParamExplicit) {
		enhanced += ", family friendly"
	}
	return enhanced
}

// videoPrompt builds the scene description for remote video providers.
func videoPrompt(p models.JSONB) string {
	scene := strings.TrimSpace(p.String(models.ParamScenePrompt))
	if scene == "" {
		scene = "music video"
	}
	style := p.String(models.ParamVisualStyle)
	if style == "" {
		return fmt.Sprintf("%s, professional video quality, smooth motion", scene)
	}
	return fmt.Sprintf("%s style %s for the track '%s', professional video quality, smooth motion", style, scene, p.String(models.ParamTrackTitle))
}

// VideoDuration maps the duration option to seconds. Unknown values use 30s.
func VideoDuration(p models.JSONB) int {
	switch p.String(models.ParamDuration) {
	case "15s":
		return 15
	case "1min":
		return 60
	default:
		return 30
	}
}

// videoAspect is 16:9 for 720p and 1080p, square otherwise.
func videoAspect(p models.JSONB) string {
	switch p.String(models.ParamResolution) {
	case "", "720p", "1080p":
		return "16:9"
	default:
		return "1:1"
	}
}

// truncate limits a string to maxLen characters for log and error output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
