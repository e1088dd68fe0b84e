package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrVideoNotFound is returned when the input video does not exist.
	ErrVideoNotFound = errors.New("input video does not exist")
)

// framePattern is the ffmpeg output pattern for sampled frames.
const framePattern = "frame_%04d.jpg"

// FFmpegSampler implements Sampler using the ffmpeg and ffprobe CLIs.
type FFmpegSampler struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegSampler creates a new FFmpegSampler.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegSampler(ffmpegPath, ffprobePath string) *FFmpegSampler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegSampler{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Probe returns the duration in seconds of a video file.
// Containers that report no duration yield 0.
func (p *FFmpegSampler) Probe(ctx context.Context, videoPath string) (float64, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrVideoNotFound, videoPath)
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseDuration(stdout.String()), nil
}

// parseDuration reads the ffprobe duration output, treating "N/A" and
// anything unparsable as an unknown (zero) duration.
func parseDuration(out string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Sample extracts frames at 1/EffectiveInterval fps, capped at MaxFrames,
// as sequentially numbered JPEG files in outputDir.
func (p *FFmpegSampler) Sample(ctx context.Context, videoPath, outputDir string, policy Policy) ([]Frame, error) {
	if policy.EffectiveInterval <= 0 || policy.MaxFrames <= 0 {
		return nil, ErrInvalidPolicy
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoPath)
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}

	if err := p.runFFmpeg(ctx, sampleArgs(videoPath, outputDir, policy)); err != nil {
		return nil, err
	}

	return listFrames(outputDir, policy)
}

// sampleArgs builds the ffmpeg argument list for a sampling run.
func sampleArgs(videoPath, outputDir string, policy Policy) []string {
	quality := policy.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	return []string{
		"-y",            // Overwrite output files
		"-i", videoPath, // Input file
		"-vf", "fps=" + policy.FPS(), // One frame per effective interval
		"-frames:v", strconv.Itoa(policy.MaxFrames), // Frame cap
		"-q:v", strconv.Itoa(quality), // JPEG quality (lower = better)
		filepath.Join(outputDir, framePattern),
	}
}

// listFrames returns the sampled images in outputDir in ascending order.
func listFrames(outputDir string, policy Policy) ([]Frame, error) {
	paths, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	sort.Strings(paths)

	if len(paths) > policy.MaxFrames {
		paths = paths[:policy.MaxFrames]
	}

	frames := make([]Frame, 0, len(paths))
	for i, path := range paths {
		frames = append(frames, Frame{
			Index:     i + 1,
			Path:      path,
			OffsetSec: policy.Offset(i + 1),
		})
	}
	return frames, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegSampler) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Compile-time check that FFmpegSampler implements Sampler.
var _ Sampler = (*FFmpegSampler)(nil)
