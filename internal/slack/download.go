package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrDownloadTooLarge is returned when a file exceeds the configured size cap.
	ErrDownloadTooLarge = errors.New("slack: download exceeds size limit")
	// ErrUnexpectedContent is returned when a download yields an HTML page instead
	// of file bytes, which is how Slack answers an unauthorized file request.
	ErrUnexpectedContent = errors.New("slack: download returned unexpected content")
)

// Download streams fileURL to destPath using the bot token for authorization.
// A partial file is removed on failure.
func (c *HTTPClient) Download(ctx context.Context, fileURL, destPath string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("slack: create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: download status %d", ErrRequestFailed, resp.StatusCode)
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		return fmt.Errorf("%w: content type %s", ErrUnexpectedContent, resp.Header.Get("Content-Type"))
	}
	if c.maxDownloadBytes > 0 && resp.ContentLength > c.maxDownloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrDownloadTooLarge, resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("slack: create download dir: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("slack: create download file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("slack: close download file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(destPath)
		}
	}()

	var body io.Reader = resp.Body
	if c.maxDownloadBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxDownloadBytes+1)
	}

	n, err := io.Copy(f, body)
	if err != nil {
		return fmt.Errorf("slack: write download: %w", err)
	}
	if c.maxDownloadBytes > 0 && n > c.maxDownloadBytes {
		return fmt.Errorf("%w: more than %d bytes", ErrDownloadTooLarge, c.maxDownloadBytes)
	}

	detected, err := mimetype.DetectFile(destPath)
	if err != nil {
		return fmt.Errorf("slack: detect download type: %w", err)
	}
	if detected.Is("text/html") {
		return fmt.Errorf("%w: detected %s", ErrUnexpectedContent, detected.String())
	}

	return nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, "text/html")
}
