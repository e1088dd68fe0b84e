package media

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPolicy is returned when the interval or frame cap is not positive.
var ErrInvalidPolicy = errors.New("invalid sampling policy: interval and max frames must be positive")

// Policy controls how many frames are sampled and how far apart.
type Policy struct {
	// RequestedInterval is the configured interval between frames, in seconds.
	RequestedInterval int
	// EffectiveInterval is the interval actually used, in seconds.
	// It is never smaller than RequestedInterval.
	EffectiveInterval int
	// MaxFrames caps the number of frames produced.
	MaxFrames int
	// Quality is the ffmpeg -q:v value for the encoded images.
	Quality int
}

// Widened reports whether the effective interval differs from the requested one.
func (p Policy) Widened() bool {
	return p.EffectiveInterval != p.RequestedInterval
}

// FPS returns the ffmpeg fps filter expression for the effective interval.
func (p Policy) FPS() string {
	return fmt.Sprintf("1/%d", p.EffectiveInterval)
}

// Offset returns the position in seconds of the frame with the given 1-based index.
func (p Policy) Offset(index int) int {
	if index < 1 {
		return 0
	}
	return (index - 1) * p.EffectiveInterval
}

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 2

// NewPolicy derives the sampling policy for a video of the given duration.
//
// When sampling every interval seconds would produce more than maxFrames
// frames, the interval is widened to ceil(duration/maxFrames) so that
// floor(duration/effective) never exceeds maxFrames. A zero or unknown
// duration keeps the requested interval.
func NewPolicy(duration float64, interval, maxFrames int) (Policy, error) {
	if interval <= 0 || maxFrames <= 0 {
		return Policy{}, fmt.Errorf("%w: interval=%d, max_frames=%d", ErrInvalidPolicy, interval, maxFrames)
	}
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}

	effective := interval
	potential := int(math.Floor(duration / float64(interval)))
	if potential > maxFrames {
		widened := int(math.Ceil(duration / float64(maxFrames)))
		if widened > effective {
			effective = widened
		}
	}

	return Policy{
		RequestedInterval: interval,
		EffectiveInterval: effective,
		MaxFrames:         maxFrames,
		Quality:           DefaultQuality,
	}, nil
}

// FormatTimestamp renders a whole-second offset as minutes:seconds,
// e.g. 125 becomes "2:05".
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
