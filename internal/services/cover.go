package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bobarin/slnpart/internal/models"
	"github.com/bobarin/slnpart/internal/providers"
)

const coverSize = 1024

type coverPalette struct {
	bg, accent color.RGBA
}

var genrePalettes = map[string]coverPalette{
	"Hip Hop":    {bg: rgb(20, 20, 20), accent: rgb(255, 215, 0)},
	"Pop":        {bg: rgb(255, 182, 193), accent: rgb(255, 20, 147)},
	"Rock":       {bg: rgb(139, 0, 0), accent: rgb(255, 69, 0)},
	"Electronic": {bg: rgb(0, 191, 255), accent: rgb(0, 255, 255)},
	"R&B":        {bg: rgb(75, 0, 130), accent: rgb(255, 215, 0)},
	"Jazz":       {bg: rgb(184, 134, 11), accent: rgb(255, 215, 0)},
	"Indie":      {bg: rgb(70, 130, 180), accent: rgb(255, 182, 193)},
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// LocalCover renders a typographic cover on this machine. It only fails on
// local I/O errors.
type LocalCover struct {
	artifacts Artifacts
	log       zerolog.Logger
}

func NewLocalCover(artifacts Artifacts, log zerolog.Logger) *LocalCover {
	return &LocalCover{artifacts: artifacts, log: log}
}

func (c *LocalCover) Name() string { return "local-cover" }

func (c *LocalCover) Local() bool { return true }

func (c *LocalCover) Generate(ctx context.Context, req providers.Request) (providers.Outcome, error) {
	data, err := RenderCover(
		req.Params.String(models.ParamArtistName),
		req.Params.String(models.ParamAlbumTitle),
		req.Params.String(models.ParamGenre),
	)
	if err != nil {
		return providers.Outcome{}, err
	}
	if err := c.artifacts.Write(req.OutputPath, data); err != nil {
		return providers.Outcome{}, fmt.Errorf("failed to save cover: %w", err)
	}
	c.log.Info().Str("job_id", req.JobID.String()).Msg("rendered local cover")
	return providers.Immediate(req.OutputPath), nil
}

// RenderCover draws a square PNG with the genre palette, a double border and
// the album title and artist name.
func RenderCover(artist, album, genre string) ([]byte, error) {
	pal, ok := genrePalettes[genre]
	if !ok {
		pal = genrePalettes["Pop"]
	}

	img := image.NewRGBA(image.Rect(0, 0, coverSize, coverSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(pal.bg), image.Point{}, draw.Src)

	drawFrame(img, image.Rect(60, 60, 964, 964), 8, pal.accent)
	drawFrame(img, image.Rect(100, 100, 924, 924), 4, color.White)

	white := color.RGBA{255, 255, 255, 255}
	drawText(img, strings.ToUpper(album), 400, 6, white)
	drawText(img, artist, 520, 4, white)
	drawText(img, strings.ToUpper(genre), 800, 3, pal.accent)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// drawFrame outlines r with a border of the given width drawn inward.
func drawFrame(img *image.RGBA, r image.Rectangle, width int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// drawText renders s with the fixed 7x13 face, scales it up and centers it
// horizontally at baseline y. Text wider than the inner frame is cut.
func drawText(dst *image.RGBA, s string, y, scale int, c color.Color) {
	if s == "" {
		return
	}
	face := basicfont.Face7x13
	maxChars := 800 / (face.Advance * scale)
	if len(s) > maxChars {
		s = s[:maxChars]
	}

	w := font.MeasureString(face, s).Ceil()
	h := face.Height
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)

	sw, sh := w*scale, h*scale
	x := (coverSize - sw) / 2
	target := image.Rect(x, y-sh, x+sw, y)
	draw.NearestNeighbor.Scale(dst, target, small, small.Bounds(), draw.Over, nil)
}
