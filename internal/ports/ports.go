package ports

import (
	"context"
	"errors"

	"voicebox/internal/domain"
)

// ErrCaptureBusy is returned by SpeechCapture.Start when a platform session is
// already running. Sessions are never queued.
var ErrCaptureBusy = errors.New("capture session already active")

// CaptureConfig describes how a one-shot recognition session should run.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	Language    string
}

// CaptureSession is a live one-shot recognition session. Events yields exactly
// one result or error event, then one end event, then closes.
type CaptureSession interface {
	Events() <-chan domain.CaptureEvent
	Stop() error
}

// SpeechCapture creates one-shot speech recognition sessions. Start fails fast
// when the platform is unsupported or a session is already running.
type SpeechCapture interface {
	Supported() bool
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// SpeechPlayback renders utterances audibly. At most one utterance is audible
// at a time; CancelAll silences any in-flight utterance without firing its
// onEnd. onEnd fires exactly once when an utterance stops being audible.
type SpeechPlayback interface {
	Voices() []domain.Voice
	Speak(ctx context.Context, utterance domain.Utterance, onEnd func()) error
	CancelAll()
}

// PermissionProber performs a best-effort microphone permission request.
type PermissionProber interface {
	Request(ctx context.Context) error
}

// Responder derives a spoken reply from a transcript.
type Responder interface {
	Reply(text string) string
}

// TranscriptNormalizer applies deterministic cleanup to raw transcripts
// before they reach the responder.
type TranscriptNormalizer interface {
	Normalize(text string) (string, error)
}

// EventSink emits widget state and errors to the UI.
type EventSink interface {
	StateChanged(status domain.Status, reason domain.StateReason)
	AssistantError(code domain.ErrorCode, detail string)
}
