// Package media provides video probing and still-frame sampling.
package media

import "context"

// Frame is one sampled still image.
type Frame struct {
	// Index is the 1-based position of the frame in the set.
	Index int
	// Path is the local path of the image file.
	Path string
	// OffsetSec is the approximate position of the frame in the video, in seconds.
	OffsetSec int
}

// Sampler defines the interface for extracting still frames from a video.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Sampler interface {
	// Probe returns the duration of the video in seconds.
	// An unknown duration is reported as 0 without an error.
	Probe(ctx context.Context, videoPath string) (float64, error)

	// Sample writes frames for the given policy into outputDir and returns
	// them in ascending order. At most policy.MaxFrames frames are returned.
	Sample(ctx context.Context, videoPath, outputDir string, policy Policy) ([]Frame, error)
}
