package domain

// AssistantState models the voice widget lifecycle.
type AssistantState string

const (
	AssistantStateIdle       AssistantState = "idle"
	AssistantStateListening  AssistantState = "listening"
	AssistantStateProcessing AssistantState = "processing"
	AssistantStateError      AssistantState = "error"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonReady              StateReason = "ready"
	ReasonListeningStarted   StateReason = "listening_started"
	ReasonListeningStopped   StateReason = "listening_stopped"
	ReasonTranscriptReceived StateReason = "transcript_received"
	ReasonResponseSpoken     StateReason = "response_spoken"
	ReasonCaptureEnded       StateReason = "capture_ended"
	ReasonErrorDisplayed     StateReason = "error_displayed"
	ReasonErrorCleared       StateReason = "error_cleared"
)

// ErrorCode identifies the closed set of non-fatal assistant errors.
type ErrorCode string

const (
	ErrorCodeCaptureUnsupported ErrorCode = "capture_unsupported"
	ErrorCodeCaptureUnavailable ErrorCode = "capture_unavailable"
	ErrorCodeCaptureStartFailed ErrorCode = "capture_start_failed"
	ErrorCodeCaptureDenied      ErrorCode = "capture_denied"
	ErrorCodeCaptureNoSpeech    ErrorCode = "capture_no_speech"
	ErrorCodeCaptureDeviceError ErrorCode = "capture_device_error"
	ErrorCodeCaptureUnknown     ErrorCode = "capture_unknown"
	ErrorCodeResponderFailed    ErrorCode = "responder_failed"
)

// CaptureFailure is the closed set of reasons a capture session can fail.
type CaptureFailure string

const (
	CaptureFailureNoSpeech   CaptureFailure = "no_speech"
	CaptureFailureDevice     CaptureFailure = "device_error"
	CaptureFailurePermission CaptureFailure = "permission_denied"
	CaptureFailureUnknown    CaptureFailure = "unknown"
)

// CaptureEventKind identifies events emitted by a capture session.
type CaptureEventKind string

const (
	CaptureEventResult CaptureEventKind = "result"
	CaptureEventError  CaptureEventKind = "error"
	CaptureEventEnd    CaptureEventKind = "end"
)

// CaptureEvent is one message from an active capture session. A session emits
// exactly one result or one error, followed by one end event.
type CaptureEvent struct {
	Kind    CaptureEventKind `json:"kind"`
	Text    string           `json:"text,omitempty"`
	Failure CaptureFailure   `json:"failure,omitempty"`
}

// Transcript is the single recognition result of a capture session.
type Transcript struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Voice describes one synthesis voice offered by the playback platform.
type Voice struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// Prosody holds fixed synthesis parameters applied to every utterance.
type Prosody struct {
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// Utterance is one reply handed to speech playback. Immutable; discarded once
// playback completes or is superseded.
type Utterance struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	Voice   Voice   `json:"voice"`
	Prosody Prosody `json:"prosody"`
}

// Status is a consistent snapshot of the widget for the UI. The display
// strings always agree with the active state.
type Status struct {
	State       AssistantState `json:"state"`
	Active      bool           `json:"active"`
	Transcript  string         `json:"transcript"`
	Response    string         `json:"response"`
	Message     string         `json:"message"`
	ButtonLabel string         `json:"buttonLabel"`
}
