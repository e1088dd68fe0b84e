package job

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/maauso/slack-video-frames/internal/media"
	"github.com/maauso/slack-video-frames/internal/slack"
)

// videoExtensions is the allowlist of container extensions treated as video.
var videoExtensions = map[string]struct{}{
	"mp4":  {},
	"mov":  {},
	"avi":  {},
	"mkv":  {},
	"webm": {},
	"m4v":  {},
	"wmv":  {},
	"flv":  {},
}

// IsVideo reports whether a file is a supported video, by extension
// (case-insensitive) or by a video/ MIME type.
func IsVideo(f *slack.File) bool {
	if f == nil {
		return false
	}
	if _, ok := videoExtensions[extension(f)]; ok {
		return true
	}
	return strings.HasPrefix(strings.ToLower(f.Mimetype), "video/")
}

// extension returns the lower-cased extension of the file name without the
// dot, falling back to Slack's filetype field.
func extension(f *slack.File) string {
	if ext := strings.TrimPrefix(filepath.Ext(f.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return strings.ToLower(f.Filetype)
}

// videoFilename is the local name the download is stored under.
func videoFilename(f *slack.File) string {
	ext := extension(f)
	if _, ok := videoExtensions[ext]; !ok {
		ext = "mp4"
	}
	return "source." + ext
}

// Caption is the comment posted with frame index of total.
func Caption(index, total, offsetSec int) string {
	return fmt.Sprintf("Frame %d/%d (%s)", index, total, media.FormatTimestamp(offsetSec))
}
