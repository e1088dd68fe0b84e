// Package job handles file_shared events: it filters for videos, samples
// frames, and posts them back into the conversation with a status message that
// moves through a fixed set of phases.
package job

import (
	"errors"
	"fmt"
	"time"
)

// Phase represents the current state of a Status Message.
type Phase string

const (
	// PhaseStarted indicates the video was accepted and processing has begun.
	PhaseStarted Phase = "STARTED"
	// PhaseExtracted indicates frames were sampled and are being uploaded.
	PhaseExtracted Phase = "EXTRACTED"
	// PhaseComplete indicates every frame was uploaded.
	PhaseComplete Phase = "COMPLETE"
	// PhaseFailed indicates processing stopped with an error.
	PhaseFailed Phase = "FAILED"
)

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines which phase transitions are allowed.
var validTransitions = map[Phase][]Phase{
	PhaseStarted:   {PhaseExtracted, PhaseFailed},
	PhaseExtracted: {PhaseComplete, PhaseFailed},
	PhaseComplete:  {},
	PhaseFailed:    {},
}

// canTransition checks if a transition from one phase to another is valid.
func canTransition(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// StatusMessage is the single message in the thread that reports progress for
// one event. It is owned by one handler invocation and is not safe for
// concurrent use.
type StatusMessage struct {
	// Channel is the conversation the message lives in.
	Channel string
	// TS is the message timestamp returned when it was posted.
	TS string
	// Phase is the current phase.
	Phase Phase
	// Text is the last text written to the message.
	Text string
	// UpdatedAt is when the phase last changed.
	UpdatedAt time.Time
}

// NewStatusMessage returns a status message in the STARTED phase.
func NewStatusMessage(channel, ts, text string) *StatusMessage {
	return &StatusMessage{
		Channel:   channel,
		TS:        ts,
		Phase:     PhaseStarted,
		Text:      text,
		UpdatedAt: time.Now(),
	}
}

// TransitionTo moves the message to phase with new text.
// Returns ErrInvalidTransition if the transition is not allowed.
func (m *StatusMessage) TransitionTo(phase Phase, text string) error {
	if !canTransition(m.Phase, phase) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Phase, phase)
	}
	m.Phase = phase
	m.Text = text
	m.UpdatedAt = time.Now()
	return nil
}

// IsTerminal returns true if the message is COMPLETE or FAILED.
func (m *StatusMessage) IsTerminal() bool {
	return m.Phase.IsTerminal()
}

// Status message texts.
const (
	TextDownloadFailed = "❌ Could not download video."
	TextExtractFailed  = "❌ Could not extract frames from video."
	TextUploadFailed   = "❌ Could not upload frames."
	TextFailed         = "❌ Something went wrong while processing the video."
)

// StartedText announces that processing has begun.
func StartedText(name string) string {
	if name == "" {
		return "🎬 Processing video..."
	}
	return fmt.Sprintf("🎬 Processing video *%s*...", name)
}

// ExtractedText reports how many frames were sampled.
func ExtractedText(frames, intervalSec int) string {
	return fmt.Sprintf("📸 Extracted %d %s (every %ds), uploading...", frames, plural(frames, "frame", "frames"), intervalSec)
}

// CompleteText reports a finished upload.
func CompleteText(frames int) string {
	return fmt.Sprintf("✅ Uploaded %d %s.", frames, plural(frames, "frame", "frames"))
}

// FailureText maps a processing error to the terminal status text.
func FailureText(err error) string {
	switch {
	case errors.Is(err, ErrNoDownloadURL), errors.Is(err, ErrDownload):
		return TextDownloadFailed
	case errors.Is(err, ErrSampling), errors.Is(err, ErrNoFrames):
		return TextExtractFailed
	case errors.Is(err, ErrUpload):
		return TextUploadFailed
	default:
		return TextFailed
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
