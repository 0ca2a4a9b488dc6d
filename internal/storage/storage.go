package storage

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/slnpart/internal/models"
)

const (
	// Download timeout per attempt
	downloadTimeout = 120 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second

	maxDownloadBytes = 512 << 20
)

// Storage keeps generated artifacts and uploads on local disk and maps them to
// public URLs under a prefix served by the API.
type Storage struct {
	root         string
	uploadRoot   string
	publicPrefix string
	client       *http.Client
	log          zerolog.Logger

	// overridable in tests
	retryDelay func(attempt int) time.Duration
}

func New(root, uploadRoot, publicPrefix string, log zerolog.Logger) (*Storage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media dir: %w", err)
	}
	absUploads, err := filepath.Abs(uploadRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
	}

	for _, dir := range []string{absRoot, absUploads} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return &Storage{
		root:         absRoot,
		uploadRoot:   absUploads,
		publicPrefix: strings.TrimRight(publicPrefix, "/"),
		client: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:        log,
		retryDelay: retryDelay,
	}, nil
}

// Root is the directory served as public media.
func (s *Storage) Root() string {
	return s.root
}

var kindExt = map[models.JobKind]string{
	models.JobKindCoverArt:    ".png",
	models.JobKindAudioMaster: ".mp3",
	models.JobKindVideo:       ".mp4",
}

// OutputPath is the planned artifact location for a job.
func (s *Storage) OutputPath(kind models.JobKind, jobID uuid.UUID) string {
	return s.Path(string(kind), jobID.String()+kindExt[kind])
}

// Path joins name under a subdirectory of the media root.
func (s *Storage) Path(dir, name string) string {
	return filepath.Join(s.root, dir, filepath.Base(name))
}

// UploadPath is where an uploaded source file for a job is kept.
func (s *Storage) UploadPath(kind models.JobKind, jobID uuid.UUID, ext string) string {
	return filepath.Join(s.uploadRoot, string(kind), jobID.String()+strings.ToLower(ext))
}

// Write stores data at p atomically (temp file + rename).
func (s *Storage) Write(p string, data []byte) error {
	return s.writeFrom(p, strings.NewReader(string(data)), -1)
}

// SaveUpload copies at most maxBytes from r to p.
func (s *Storage) SaveUpload(p string, r io.Reader, maxBytes int64) error {
	return s.writeFrom(p, r, maxBytes)
}

// Copy duplicates the file at src to dst.
func (s *Storage) Copy(dst, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()
	return s.writeFrom(dst, f, -1)
}

func (s *Storage) writeFrom(p string, r io.Reader, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if maxBytes > 0 && n > maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", models.ErrValidation, maxBytes)
	}
	if n == 0 {
		return fmt.Errorf("%w: file is empty", models.ErrValidation)
	}

	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", p, err)
	}
	return nil
}

// Remove deletes a file under the media or upload root. A missing file is not
// an error.
func (s *Storage) Remove(p string) error {
	if !s.IsLocal(p) && !within(s.uploadRoot, p) {
		return fmt.Errorf("refusing to remove %s outside storage", p)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// IsLocal reports whether ref is a path inside the media root.
func (s *Storage) IsLocal(ref string) bool {
	if ref == "" || strings.Contains(ref, "://") {
		return false
	}
	return within(s.root, ref)
}

func within(root, p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Exists reports whether ref is a non-empty file under the media or upload
// root.
func (s *Storage) Exists(ref string) bool {
	if !s.IsLocal(ref) && !within(s.uploadRoot, ref) {
		return false
	}
	info, err := os.Stat(ref)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// PublicURL maps an artifact reference to the URL clients should use.
// Remote URLs pass through unchanged.
func (s *Storage) PublicURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !s.IsLocal(ref) {
		return ""
	}
	abs, _ := filepath.Abs(ref)
	rel, _ := filepath.Rel(s.root, abs)
	return s.publicPrefix + "/" + path.Clean(filepath.ToSlash(rel))
}

// Download fetches url into dest with retries and exponential backoff.
func (s *Storage) Download(ctx context.Context, url, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			s.log.Warn().Int("attempt", attempt).Dur("wait", delay).Str("url", truncate(url, 120)).Msg("download retry")

			select {
			case <-ctx.Done():
				return fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		retry, err := s.downloadOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *Storage) downloadOnce(ctx context.Context, url, dest string) (bool, error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return isRetryableError(err), fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return isRetryableStatus(resp.StatusCode), fmt.Errorf("download failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := s.writeFrom(dest, resp.Body, maxDownloadBytes); err != nil {
		return isRetryableError(err), err
	}
	return false, nil
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt + random jitter
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	// Add 0–25% jitter to avoid thundering herd
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
