package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// ErrUploadPathRequired is returned when UploadFile is called without a path.
var ErrUploadPathRequired = errors.New("slack: upload path is required")

// UploadFile uploads a local file with the external upload flow:
// files.getUploadURLExternal, a raw POST of the bytes, then
// files.completeUploadExternal to share it into the conversation.
func (c *HTTPClient) UploadFile(ctx context.Context, params UploadParams) error {
	if params.Path == "" {
		return ErrUploadPathRequired
	}
	if params.ChannelID == "" {
		return ErrChannelRequired
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return fmt.Errorf("slack: stat upload: %w", err)
	}

	filename := params.Filename
	if filename == "" {
		filename = filepath.Base(params.Path)
	}
	title := params.Title
	if title == "" {
		title = filename
	}

	var ticket uploadURLResponse
	form := url.Values{
		"filename": {filename},
		"length":   {strconv.FormatInt(info.Size(), 10)},
	}
	if err := c.call(ctx, "files.getUploadURLExternal", form, &ticket); err != nil {
		return err
	}

	if err := c.sendUpload(ctx, ticket.UploadURL, params.Path, info.Size()); err != nil {
		return err
	}

	files, err := json.Marshal([]completeFile{{ID: ticket.FileID, Title: title}})
	if err != nil {
		return fmt.Errorf("slack: marshal files: %w", err)
	}

	complete := url.Values{
		"files":      {string(files)},
		"channel_id": {params.ChannelID},
	}
	if params.ThreadTS != "" {
		complete.Set("thread_ts", params.ThreadTS)
	}
	if params.Comment != "" {
		complete.Set("initial_comment", params.Comment)
	}

	return c.call(ctx, "files.completeUploadExternal", complete, nil)
}

// sendUpload posts the file bytes to the one-time upload URL.
func (c *HTTPClient) sendUpload(ctx context.Context, uploadURL, path string, size int64) error {
	if uploadURL == "" {
		return fmt.Errorf("%w: empty upload url", ErrRequestFailed)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("slack: open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return fmt.Errorf("slack: create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: upload status %d: %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	return nil
}
