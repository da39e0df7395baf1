package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Downloader fetches a single enclosure URL to a destination path. The
// transport is pluggable so tests and alternative backends can substitute
// their own.
type Downloader interface {
	Download(ctx context.Context, url, dest string, overwrite bool) error
}

// HTTPDownloader downloads enclosures over HTTP, streaming to a temporary
// file and renaming into place so an interrupted download never leaves a
// truncated file at the final path.
type HTTPDownloader struct {
	client *http.Client
	log    *slog.Logger
}

// NewHTTPDownloader creates an HTTPDownloader.
func NewHTTPDownloader(log *slog.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{Timeout: 30 * time.Minute},
		log:    log,
	}
}

// Download fetches url to dest. If dest already exists and overwrite is
// false, the download is skipped.
func (d *HTTPDownloader) Download(ctx context.Context, url, dest string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			d.log.Info("file already exists, skipping download", "dest", dest)
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, url)
	}

	tmp := dest + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed writing %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	d.log.Info("downloaded enclosure", "url", url, "dest", dest, "bytes", written)
	return nil
}
