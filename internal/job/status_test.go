package job

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewStatusMessage(t *testing.T) {
	m := NewStatusMessage("C1", "1.0", "starting")

	if m.Phase != PhaseStarted {
		t.Errorf("expected phase %s, got %s", PhaseStarted, m.Phase)
	}
	if m.Channel != "C1" || m.TS != "1.0" || m.Text != "starting" {
		t.Errorf("unexpected message %+v", m)
	}
	if m.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
	if m.IsTerminal() {
		t.Error("new message should not be terminal")
	}
}

func TestStatusMessage_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Phase
		to      Phase
		wantErr bool
	}{
		// Valid transitions
		{"STARTED to EXTRACTED", PhaseStarted, PhaseExtracted, false},
		{"STARTED to FAILED", PhaseStarted, PhaseFailed, false},
		{"EXTRACTED to COMPLETE", PhaseExtracted, PhaseComplete, false},
		{"EXTRACTED to FAILED", PhaseExtracted, PhaseFailed, false},
		// Invalid transitions
		{"STARTED to COMPLETE", PhaseStarted, PhaseComplete, true},
		{"EXTRACTED to STARTED", PhaseExtracted, PhaseStarted, true},
		{"COMPLETE to FAILED", PhaseComplete, PhaseFailed, true},
		{"FAILED to COMPLETE", PhaseFailed, PhaseComplete, true},
		{"FAILED to FAILED", PhaseFailed, PhaseFailed, true},
		{"unknown phase", Phase("UNKNOWN"), PhaseFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStatusMessage("C1", "1.0", "x")
			m.Phase = tt.from

			err := m.TransitionTo(tt.to, "next")

			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
				}
				if m.Phase != tt.from {
					t.Errorf("phase changed on rejected transition: %s", m.Phase)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
			if m.Phase != tt.to || m.Text != "next" {
				t.Errorf("expected phase %s with new text, got %s %q", tt.to, m.Phase, m.Text)
			}
		})
	}
}

func TestPhase_IsTerminal(t *testing.T) {
	tests := map[Phase]bool{
		PhaseStarted:   false,
		PhaseExtracted: false,
		PhaseComplete:  true,
		PhaseFailed:    true,
	}
	for phase, want := range tests {
		if got := phase.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", phase, got, want)
		}
	}
}

func TestFailureText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNoDownloadURL, TextDownloadFailed},
		{fmt.Errorf("%w: status 403", ErrDownload), TextDownloadFailed},
		{fmt.Errorf("%w: exit status 1", ErrSampling), TextExtractFailed},
		{ErrNoFrames, TextExtractFailed},
		{fmt.Errorf("%w: frame 2/5", ErrUpload), TextUploadFailed},
		{ErrWorkspace, TextFailed},
		{ErrPanic, TextFailed},
		{errors.New("other"), TextFailed},
	}

	for _, tt := range tests {
		if got := FailureText(tt.err); got != tt.want {
			t.Errorf("FailureText(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStatusTexts(t *testing.T) {
	if got := StartedText("clip.mp4"); got != "🎬 Processing video *clip.mp4*..." {
		t.Errorf("StartedText() = %q", got)
	}
	if got := StartedText(""); got != "🎬 Processing video..." {
		t.Errorf("StartedText(\"\") = %q", got)
	}
	if got := ExtractedText(10, 3); got != "📸 Extracted 10 frames (every 3s), uploading..." {
		t.Errorf("ExtractedText() = %q", got)
	}
	if got := ExtractedText(1, 3); got != "📸 Extracted 1 frame (every 3s), uploading..." {
		t.Errorf("ExtractedText() = %q", got)
	}
	if got := CompleteText(10); got != "✅ Uploaded 10 frames." {
		t.Errorf("CompleteText() = %q", got)
	}
}
