// Package media invokes the external media binaries (ffmpeg) with an explicit
// argument list and a hard wall-clock timeout.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command is one invocation. Output must be the file the arguments write.
// The binary writes to a partial file next to Output, which is renamed into
// place only after a successful run.
type Command struct {
	Args    []string
	Output  string
	Timeout time.Duration
}

// Runner runs a Command and returns the path of the produced file.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	binary string
	log    zerolog.Logger
}

func NewFFmpeg(log zerolog.Logger) *FFmpeg {
	return &FFmpeg{binary: "ffmpeg", log: log}
}

// NewFFmpegBinary uses a specific ffmpeg executable.
func NewFFmpegBinary(binary string, log zerolog.Logger) *FFmpeg {
	return &FFmpeg{binary: binary, log: log}
}

func (f *FFmpeg) Run(ctx context.Context, c Command) (string, error) {
	if c.Timeout <= 0 {
		return "", errors.New("ffmpeg timeout must be positive")
	}
	if c.Output == "" {
		return "", errors.New("ffmpeg output path is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	partial := partialPath(c.Output)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == c.Output {
			a = partial
		}
		args[i] = a
	}
	defer os.Remove(partial)

	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// children holding stderr open must not outlive the deadline
	cmd.WaitDelay = time.Second

	start := time.Now()
	f.log.Debug().Strs("args", args).Dur("timeout", c.Timeout).Msg("running ffmpeg")

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("ffmpeg timed out after %v", c.Timeout)
	}
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 500))
	}

	info, err := os.Stat(partial)
	if err != nil {
		return "", fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("ffmpeg produced an empty file at %s", c.Output)
	}
	if err := os.Rename(partial, c.Output); err != nil {
		return "", fmt.Errorf("failed to move ffmpeg output: %w", err)
	}

	f.log.Info().Str("output", c.Output).Dur("elapsed", time.Since(start)).Msg("ffmpeg finished")
	return c.Output, nil
}

// partialPath keeps the extension so ffmpeg still infers the container.
func partialPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + ".partial" + ext
}

// tail keeps the last maxLen bytes of ffmpeg's stderr, where errors appear.
func tail(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
