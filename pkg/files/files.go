// Package files manages the transient download directory used for media that
// must be re-uploaded to the platform. Files live only for the duration of
// one handler run.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrAudioDownload rejects audio links; audio play URLs are sent to the
// platform directly instead of being proxied through disk.
var ErrAudioDownload = errors.New("downloading .mp3 files is not allowed")

// maxDownloadBytes caps a single media download (Telegram upload limit).
const maxDownloadBytes int64 = 50 * 1024 * 1024

// Store is a download directory with lifecycle helpers.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore binds a store to dir without touching the filesystem yet.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}

	return &Store{dir: dir, log: log.With("component", "files")}
}

// Download streams url into a uniquely named file under the store directory
// and returns its path. The directory is created on first use.
func (s *Store) Download(ctx context.Context, url string) (string, error) {
	if strings.HasSuffix(strings.ToLower(url), ".mp3") {
		return "", ErrAudioDownload
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("temp_%d.mp4", time.Now().UnixNano()))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save download: %w", err)
	}
	if written > maxDownloadBytes {
		os.Remove(path)
		return "", fmt.Errorf("download exceeds %d bytes", maxDownloadBytes)
	}

	s.log.Debug("File downloaded", "path", path, "bytes", written)
	return path, nil
}

// Remove deletes a downloaded file, logging instead of failing when the file
// is already gone.
func (s *Store) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Could not remove downloaded file", "path", path, "error", err)
	}
}
