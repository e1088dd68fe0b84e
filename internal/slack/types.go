// Package slack provides the narrow slice of the Slack platform this service
// needs: a Web API client, authenticated file download, the external file
// upload flow, Socket Mode event delivery, and signed HTTP event delivery.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// FileSharedEvent is the inbound notification that a file was shared in a channel.
type FileSharedEvent struct {
	FileID    string `json:"file_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	UserID    string `json:"user_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventTS   string `json:"event_ts,omitempty"`
}

// EventHandler receives file_shared events. It must not block for long:
// delivery acknowledgements wait for it to return.
type EventHandler func(ctx context.Context, ev FileSharedEvent)

// File is the metadata returned by files.info.
type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Title              string `json:"title"`
	Mimetype           string `json:"mimetype"`
	Filetype           string `json:"filetype"`
	Size               int64  `json:"size"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
	Shares             Shares `json:"shares"`
}

// Shares maps channel IDs to the messages where the file was shared.
type Shares struct {
	Public  map[string][]ShareInfo `json:"public"`
	Private map[string][]ShareInfo `json:"private"`
}

// ShareInfo describes one share of a file.
type ShareInfo struct {
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
}

// DownloadURL returns the preferred download locator, or "" when none exists.
func (f *File) DownloadURL() string {
	if f.URLPrivateDownload != "" {
		return f.URLPrivateDownload
	}
	return f.URLPrivate
}

// ShareIn returns the first share of the file in channel, looking at public
// shares before private ones.
func (f *File) ShareIn(channel string) (ShareInfo, bool) {
	if shares := f.Shares.Public[channel]; len(shares) > 0 {
		return shares[0], true
	}
	if shares := f.Shares.Private[channel]; len(shares) > 0 {
		return shares[0], true
	}
	return ShareInfo{}, false
}

// ThreadRoot returns the timestamp replies should be threaded under: the
// enclosing thread when the file was shared inside one, else the share itself.
func (s ShareInfo) ThreadRoot() string {
	if s.ThreadTS != "" {
		return s.ThreadTS
	}
	return s.TS
}

// UploadParams describes one file upload into a conversation.
type UploadParams struct {
	// Path is the local file to upload.
	Path string
	// Filename is the name shown in Slack. Defaults to the base name of Path.
	Filename string
	// Title is the file title. Defaults to Filename.
	Title string
	// ChannelID is the destination conversation.
	ChannelID string
	// ThreadTS threads the upload under a message when set.
	ThreadTS string
	// Comment is posted with the file.
	Comment string
}

// APIError is a Web API response with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack: %s: %s", e.Method, e.Code)
}

// Reaction error codes that mean the desired state already holds.
const (
	codeAlreadyReacted = "already_reacted"
	codeNoReaction     = "no_reaction"
)

// IsReactionNoop reports whether err only says the reaction was already
// present (on add) or already absent (on remove).
func IsReactionNoop(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAlreadyReacted || apiErr.Code == codeNoReaction
}

// apiResponse is the envelope shared by all Web API responses.
type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type fileInfoResponse struct {
	File File `json:"file"`
}

type postMessageResponse struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

type connectionsOpenResponse struct {
	URL string `json:"url"`
}

// completeFile is one entry of the files argument to files.completeUploadExternal.
type completeFile struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// eventCallback is the outer Events API payload, shared by Socket Mode and HTTP delivery.
type eventCallback struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	EventID   string          `json:"event_id,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

// innerEvent is the subset of the inner event this service reads.
type innerEvent struct {
	Type      string `json:"type"`
	FileID    string `json:"file_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	EventTS   string `json:"event_ts"`
	File      struct {
		ID string `json:"id"`
	} `json:"file"`
}

// parseFileShared extracts a file_shared event from an event_callback
// payload. ok is false for any other event type.
func parseFileShared(payload []byte) (FileSharedEvent, bool, error) {
	var cb eventCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return FileSharedEvent{}, false, fmt.Errorf("slack: decode event callback: %w", err)
	}
	if cb.Type != "event_callback" || len(cb.Event) == 0 {
		return FileSharedEvent{}, false, nil
	}

	var inner innerEvent
	if err := json.Unmarshal(cb.Event, &inner); err != nil {
		return FileSharedEvent{}, false, fmt.Errorf("slack: decode event: %w", err)
	}
	if inner.Type != "file_shared" {
		return FileSharedEvent{}, false, nil
	}

	fileID := inner.FileID
	if fileID == "" {
		fileID = inner.File.ID
	}

	return FileSharedEvent{
		FileID:    fileID,
		ChannelID: inner.ChannelID,
		UserID:    inner.UserID,
		EventID:   cb.EventID,
		EventTS:   inner.EventTS,
	}, true, nil
}
