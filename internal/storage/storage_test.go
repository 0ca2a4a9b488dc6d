package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "media"), filepath.Join(dir, "uploads"), "/media/", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.retryDelay = func(int) time.Duration { return time.Millisecond }
	return s
}

func TestOutputPathAndPublicURL(t *testing.T) {
	s := newTestStorage(t)
	id := uuid.New()

	p := s.OutputPath(models.JobKindVideo, id)
	if filepath.Ext(p) != ".mp4" {
		t.Errorf("expected .mp4, got %s", p)
	}
	if !s.IsLocal(p) {
		t.Errorf("expected %s to be local", p)
	}
	if s.Exists(p) {
		t.Error("artifact should not exist yet")
	}

	if err := s.Write(p, []byte("video")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists(p) {
		t.Error("expected artifact to exist")
	}

	want := "/media/video/" + id.String() + ".mp4"
	if got := s.PublicURL(p); got != want {
		t.Errorf("PublicURL = %s, want %s", got, want)
	}
}

func TestIsLocalRejectsOutsidePaths(t *testing.T) {
	s := newTestStorage(t)
	for _, ref := range []string{
		"",
		"req-abc123",
		"https://cdn.example.com/v.mp4",
		"/etc/passwd",
		filepath.Join(s.Root(), "..", "escape.mp4"),
	} {
		if s.IsLocal(ref) {
			t.Errorf("expected %q not to be local", ref)
		}
		if s.Exists(ref) {
			t.Errorf("expected %q not to exist", ref)
		}
	}

	if got := s.PublicURL("https://cdn.example.com/v.mp4"); got != "https://cdn.example.com/v.mp4" {
		t.Errorf("remote URL should pass through, got %s", got)
	}
	if got := s.PublicURL("req-abc123"); got != "" {
		t.Errorf("handle must not map to a URL, got %s", got)
	}
}

func TestSaveUploadEnforcesLimit(t *testing.T) {
	s := newTestStorage(t)
	p := s.UploadPath(models.JobKindAudioMaster, uuid.New(), ".WAV")
	if filepath.Ext(p) != ".wav" {
		t.Errorf("expected lowercase extension, got %s", p)
	}

	err := s.SaveUpload(p, strings.NewReader("0123456789"), 5)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized upload, got %v", err)
	}
	if _, statErr := os.Stat(p); !os.IsNotExist(statErr) {
		t.Error("oversized upload must not be kept")
	}

	if err := s.SaveUpload(p, strings.NewReader("01234"), 5); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
}

func TestDownloadRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s := newTestStorage(t)
	dest := s.Path("cover_art", "a.png")
	if err := s.Download(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "png-bytes" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestDownloadStopsOnPermanentStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestStorage(t)
	if err := s.Download(context.Background(), srv.URL, s.Path("cover_art", "b.png")); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestRetryDelayIsBounded(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(attempt)
		if d < baseRetryDelay || d > maxRetryDelay+maxRetryDelay/4 {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestDownloadStopsAtDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	s := newTestStorage(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	dest := s.Path("video", "slow.mp4")
	if err := s.Download(ctx, srv.URL, dest); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("download ran %v past its deadline", elapsed)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no artifact should be left behind")
	}
}

func TestRemove(t *testing.T) {
	s := newTestStorage(t)
	upload := s.UploadPath(models.JobKindAudioMaster, uuid.New(), ".wav")
	if err := s.SaveUpload(upload, strings.NewReader("take"), 0); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}

	if err := s.Remove(upload); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Error("upload still present")
	}
	if err := s.Remove(upload); err != nil {
		t.Errorf("removing a missing file: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "keep.txt")
	os.WriteFile(outside, []byte("x"), 0o644)
	if err := s.Remove(outside); err == nil {
		t.Error("expected error for a path outside storage")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("file outside storage was removed")
	}
}
