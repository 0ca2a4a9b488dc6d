package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeBinary writes a shell script standing in for ffmpeg.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunReturnsOutput(t *testing.T) {
	bin := fakeBinary(t, `eval "out=\${$#}"; printf data > "$out"`)
	out := filepath.Join(t.TempDir(), "out.mp3")

	got, err := NewFFmpegBinary(bin, zerolog.Nop()).Run(context.Background(), Command{
		Args:    []string{"-i", "in.wav", "-y", out},
		Output:  out,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != out {
		t.Errorf("expected %s, got %s", out, got)
	}
	if _, err := os.Stat(partialPath(out)); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestRunLeavesNoOutputOnFailure(t *testing.T) {
	bin := fakeBinary(t, `eval "out=\${$#}"; printf half > "$out"; exit 1`)
	out := filepath.Join(t.TempDir(), "out.mp4")

	_, err := NewFFmpegBinary(bin, zerolog.Nop()).Run(context.Background(), Command{
		Args:    []string{"-y", out},
		Output:  out,
		Timeout: 5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, p := range []string{out, partialPath(out)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be absent, got %v", p, err)
		}
	}
}

func TestPartialPathKeepsExtension(t *testing.T) {
	if got := partialPath("/media/video/abc.mp4"); got != "/media/video/abc.partial.mp4" {
		t.Errorf("unexpected %s", got)
	}
}

func TestRunReportsFailure(t *testing.T) {
	bin := fakeBinary(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	out := filepath.Join(t.TempDir(), "out.mp4")

	_, err := NewFFmpegBinary(bin, zerolog.Nop()).Run(context.Background(), Command{Output: out, Timeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestRunEnforcesTimeout(t *testing.T) {
	bin := fakeBinary(t, `exec sleep 5`)
	out := filepath.Join(t.TempDir(), "out.mp4")

	start := time.Now()
	_, err := NewFFmpegBinary(bin, zerolog.Nop()).Run(context.Background(), Command{Output: out, Timeout: 100 * time.Millisecond})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced")
	}
}

func TestRunRejectsEmptyOutput(t *testing.T) {
	bin := fakeBinary(t, `exit 0`)
	out := filepath.Join(t.TempDir(), "missing.mp4")

	if _, err := NewFFmpegBinary(bin, zerolog.Nop()).Run(context.Background(), Command{Output: out, Timeout: time.Second}); err == nil {
		t.Fatal("expected error when no output was written")
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short  ", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
	if got := tail("abcdefghij", 3); got != "...hij" {
		t.Errorf("unexpected %q", got)
	}
}
