package recorder

import (
	"time"

	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/transcribe"
)

// StateKind identifies a phase of the recording lifecycle.
type StateKind string

const (
	// StateIdle means no session is active.
	StateIdle StateKind = "idle"
	// StateRecording means a capture session is running.
	StateRecording StateKind = "recording"
	// StateProcessing means capture finished and the pipeline is
	// finalizing audio and fetching the transcription.
	StateProcessing StateKind = "processing"
	// StateSuccess means a session completed with a usable result. Held
	// briefly for display, then the machine returns to idle.
	StateSuccess StateKind = "success"
	// StateError means a session failed. Requires an explicit retry or
	// dismissal to leave.
	StateError StateKind = "error"
)

// State is a snapshot of the recording state machine. Exactly the fields
// relevant to Kind are populated.
type State struct {
	Kind      StateKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	// StartedAt is set while recording.
	StartedAt time.Time `json:"started_at,omitempty"`
	// AudioFile and Transcription are set on success.
	AudioFile     *capture.AudioFile `json:"audio_file,omitempty"`
	Transcription *transcribe.Result `json:"transcription,omitempty"`
	// Err is set on error.
	Err *CaptureError `json:"error,omitempty"`
}

func (s State) String() string {
	return string(s.Kind)
}

func idleState() State {
	return State{Kind: StateIdle}
}

func recordingState(sessionID string, startedAt time.Time) State {
	return State{Kind: StateRecording, SessionID: sessionID, StartedAt: startedAt}
}

func processingState(sessionID string) State {
	return State{Kind: StateProcessing, SessionID: sessionID}
}

func successState(file *capture.AudioFile, result *transcribe.Result) State {
	return State{
		Kind:          StateSuccess,
		SessionID:     file.SessionID,
		AudioFile:     file,
		Transcription: result,
	}
}

func errorState(sessionID string, err *CaptureError) State {
	return State{Kind: StateError, SessionID: sessionID, Err: err}
}
