package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicebox/internal/domain"
	"voicebox/internal/logging"
	"voicebox/internal/ports"
)

const defaultErrorResetDelay = 3 * time.Second

// Config controls voice interaction behavior.
type Config struct {
	Capture         ports.CaptureConfig
	Prosody         domain.Prosody
	ErrorResetDelay time.Duration
}

// Controller owns the voice widget lifecycle: it arms a listening session,
// receives the transcript, derives a reply, drives playback and resets to
// idle. Every external event is applied atomically against the current state;
// stale events from superseded sessions, utterances or timers are ignored.
type Controller struct {
	capture     ports.SpeechCapture
	playback    ports.SpeechPlayback
	responder   ports.Responder
	normalizer  ports.TranscriptNormalizer
	permissions ports.PermissionProber
	events      ports.EventSink
	cfg         Config

	mu          sync.Mutex
	state       domain.AssistantState
	transcript  string
	response    string
	message     string
	unsupported bool
	closed      bool

	session      ports.CaptureSession
	sessionGen   int
	settled      bool
	utteranceGen int
	errorGen     int
	errorTimer   *time.Timer
}

func NewController(
	capture ports.SpeechCapture,
	playback ports.SpeechPlayback,
	responder ports.Responder,
	normalizer ports.TranscriptNormalizer,
	permissions ports.PermissionProber,
	events ports.EventSink,
	cfg Config,
) *Controller {
	if cfg.ErrorResetDelay <= 0 {
		cfg.ErrorResetDelay = defaultErrorResetDelay
	}
	if cfg.Prosody == (domain.Prosody{}) {
		cfg.Prosody = domain.Prosody{Rate: 0.95, Pitch: 1.0, Volume: 1.0}
	}
	return &Controller{
		capture:     capture,
		playback:    playback,
		responder:   responder,
		normalizer:  normalizer,
		permissions: permissions,
		events:      events,
		cfg:         cfg,
		state:       domain.AssistantStateIdle,
		message:     stateMessage(domain.AssistantStateIdle, ""),
	}
}

// Start mounts the controller: it verifies capture support and fires a
// best-effort permission probe whose failure is logged, never surfaced.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.capture == nil || !c.capture.Supported() {
		c.unsupported = true
		c.state = domain.AssistantStateError
		c.message = failureText(domain.ErrorCodeCaptureUnsupported)
		c.response = c.message
		status := c.statusLocked()
		c.mu.Unlock()

		c.events.AssistantError(domain.ErrorCodeCaptureUnsupported, "speech capture unsupported")
		c.events.StateChanged(status, domain.ReasonErrorDisplayed)
		return
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.events.StateChanged(status, domain.ReasonReady)

	if c.permissions != nil {
		go func() {
			if err := c.permissions.Request(ctx); err != nil {
				logging.Warnw("microphone permission probe failed", "error", err)
			}
		}()
	}
}

// Close unmounts the controller, stopping any active capture session and
// silencing playback. Events from stopped sessions are ignored afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	session := c.session
	c.session = nil
	c.sessionGen++
	if c.errorTimer != nil {
		c.errorTimer.Stop()
		c.errorTimer = nil
	}
	c.mu.Unlock()

	if session != nil {
		_ = session.Stop()
	}
	if c.playback != nil {
		c.playback.CancelAll()
	}
}

// Toggle is the single user-facing operation: idle starts listening,
// listening stops, and anything else is a no-op.
func (c *Controller) Toggle(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.unsupported {
		c.mu.Unlock()
		return
	}

	switch c.state {
	case domain.AssistantStateIdle:
		c.startListeningLocked(ctx)
	case domain.AssistantStateListening:
		c.stopListeningLocked()
	default:
		// Capture or playback already in flight.
		c.mu.Unlock()
	}
}

// Status returns a consistent snapshot for the UI.
func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// startListeningLocked begins a capture session. Called with the mutex held;
// releases it before returning.
func (c *Controller) startListeningLocked(ctx context.Context) {
	session, err := c.capture.Start(ctx, c.cfg.Capture)
	if err != nil {
		code := domain.ErrorCodeCaptureStartFailed
		if errors.Is(err, ports.ErrCaptureBusy) {
			code = domain.ErrorCodeCaptureUnavailable
		}
		c.showErrorLocked(code, err.Error())
		return
	}

	c.session = session
	c.sessionGen++
	c.settled = false
	gen := c.sessionGen

	c.state = domain.AssistantStateListening
	c.transcript = ""
	c.response = ""
	c.message = stateMessage(c.state, "")
	status := c.statusLocked()
	c.mu.Unlock()

	c.events.StateChanged(status, domain.ReasonListeningStarted)

	go func() {
		for event := range session.Events() {
			c.handleCaptureEvent(ctx, gen, event)
		}
	}()
}

// stopListeningLocked cancels the active session on user request. Called with
// the mutex held; releases it before returning.
func (c *Controller) stopListeningLocked() {
	session := c.session
	c.session = nil
	c.sessionGen++
	c.state = domain.AssistantStateIdle
	c.transcript = ""
	c.response = ""
	c.message = stateMessage(c.state, "")
	status := c.statusLocked()
	c.mu.Unlock()

	if session != nil {
		_ = session.Stop()
	}
	c.events.StateChanged(status, domain.ReasonListeningStopped)
}

// handleCaptureEvent applies one capture session message atomically.
func (c *Controller) handleCaptureEvent(ctx context.Context, gen int, event domain.CaptureEvent) {
	c.mu.Lock()
	if c.closed || gen != c.sessionGen {
		c.mu.Unlock()
		return
	}

	switch event.Kind {
	case domain.CaptureEventResult:
		if c.state != domain.AssistantStateListening {
			c.mu.Unlock()
			return
		}
		c.settled = true
		c.onTranscriptLocked(ctx, event.Text)

	case domain.CaptureEventError:
		if c.state != domain.AssistantStateListening {
			c.mu.Unlock()
			return
		}
		c.settled = true
		c.showErrorLocked(captureFailureCode(event.Failure), string(event.Failure))

	case domain.CaptureEventEnd:
		c.session = nil
		if c.settled {
			c.mu.Unlock()
			return
		}
		// The session ended without producing a result or an error.
		c.resetToIdleLocked(domain.ReasonCaptureEnded)

	default:
		c.mu.Unlock()
	}
}

// onTranscriptLocked moves to processing, derives the reply and starts
// playback. Called with the mutex held; releases it before returning.
func (c *Controller) onTranscriptLocked(ctx context.Context, text string) {
	transcript := domain.Transcript{ID: uuid.NewString(), Text: text}
	c.transcript = transcript.Text
	c.state = domain.AssistantStateProcessing
	c.message = stateMessage(c.state, "")
	status := c.statusLocked()

	reply, err := c.respond(transcript.Text)
	if err != nil {
		logging.Errorw("responder failed", "transcript_id", transcript.ID, "error", err)
		c.showErrorLocked(domain.ErrorCodeResponderFailed, err.Error())
		return
	}

	c.response = reply
	c.playback.CancelAll()
	c.utteranceGen++
	gen := c.utteranceGen

	utterance := domain.Utterance{
		ID:      uuid.NewString(),
		Text:    reply,
		Prosody: c.cfg.Prosody,
	}
	speakStatus := c.statusLocked()
	c.mu.Unlock()

	c.events.StateChanged(status, domain.ReasonTranscriptReceived)
	c.events.StateChanged(speakStatus, domain.ReasonResponseSpoken)

	if err := c.playback.Speak(ctx, utterance, func() { c.handlePlaybackEnd(gen) }); err != nil {
		// Playback exposes no failure channel to the widget; resolve the
		// utterance immediately so processing never sticks.
		logging.Warnw("playback start failed", "utterance_id", utterance.ID, "error", err)
		c.handlePlaybackEnd(gen)
	}
}

// handlePlaybackEnd resolves a completed utterance back to idle.
func (c *Controller) handlePlaybackEnd(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.utteranceGen || c.state != domain.AssistantStateProcessing {
		c.mu.Unlock()
		return
	}
	if c.errorTimer != nil {
		c.errorTimer.Stop()
		c.errorTimer = nil
	}
	c.resetToIdleLocked(domain.ReasonReady)
}

// respond derives a reply from a transcript, recovering responder panics and
// surfacing normalization failures as responder errors.
func (c *Controller) respond(text string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()

	normalized := text
	if c.normalizer != nil {
		normalized, err = c.normalizer.Normalize(text)
		if err != nil {
			return "", err
		}
	}
	return c.responder.Reply(normalized), nil
}

// showErrorLocked funnels every failure through one path: display the
// message, force the error state and arm the auto-reset timer. A later error
// within the window restarts it with its own message. Called with the mutex
// held; releases it before returning.
func (c *Controller) showErrorLocked(code domain.ErrorCode, detail string) {
	c.state = domain.AssistantStateError
	c.message = failureText(code)
	c.response = c.message
	c.errorGen++
	gen := c.errorGen

	if c.errorTimer != nil {
		c.errorTimer.Stop()
	}
	c.errorTimer = time.AfterFunc(c.cfg.ErrorResetDelay, func() { c.handleErrorReset(gen) })

	status := c.statusLocked()
	c.mu.Unlock()

	c.events.AssistantError(code, detail)
	c.events.StateChanged(status, domain.ReasonErrorDisplayed)
}

// handleErrorReset returns to idle once the error window elapses, unless a
// newer error superseded this one.
func (c *Controller) handleErrorReset(gen int) {
	c.mu.Lock()
	if c.closed || gen != c.errorGen || c.state != domain.AssistantStateError {
		c.mu.Unlock()
		return
	}
	c.errorTimer = nil
	c.resetToIdleLocked(domain.ReasonErrorCleared)
}

// resetToIdleLocked restores the idle state and default display text. Called
// with the mutex held; releases it before returning.
func (c *Controller) resetToIdleLocked(reason domain.StateReason) {
	c.state = domain.AssistantStateIdle
	c.transcript = ""
	c.response = ""
	c.message = stateMessage(c.state, "")
	status := c.statusLocked()
	c.mu.Unlock()

	c.events.StateChanged(status, reason)
}

func (c *Controller) statusLocked() domain.Status {
	return domain.Status{
		State:       c.state,
		Active:      c.state != domain.AssistantStateIdle,
		Transcript:  c.transcript,
		Response:    c.response,
		Message:     c.message,
		ButtonLabel: buttonLabel(c.state),
	}
}

func captureFailureCode(failure domain.CaptureFailure) domain.ErrorCode {
	switch failure {
	case domain.CaptureFailureNoSpeech:
		return domain.ErrorCodeCaptureNoSpeech
	case domain.CaptureFailureDevice:
		return domain.ErrorCodeCaptureDeviceError
	case domain.CaptureFailurePermission:
		return domain.ErrorCodeCaptureDenied
	default:
		return domain.ErrorCodeCaptureUnknown
	}
}

func failureText(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeCaptureUnsupported:
		return "Speech recognition is not supported on this device."
	case domain.ErrorCodeCaptureUnavailable:
		return "Speech recognition is unavailable right now."
	case domain.ErrorCodeCaptureStartFailed:
		return "Could not start listening. Please try again."
	case domain.ErrorCodeCaptureDenied:
		return "Microphone permission was denied."
	case domain.ErrorCodeCaptureNoSpeech:
		return "No speech was detected. Please try again."
	case domain.ErrorCodeCaptureDeviceError:
		return "Microphone is not available. Check your audio device."
	case domain.ErrorCodeResponderFailed:
		return "Sorry, I had trouble coming up with a response."
	default:
		return "Something went wrong while listening. Please try again."
	}
}

func stateMessage(state domain.AssistantState, errorMessage string) string {
	switch state {
	case domain.AssistantStateListening:
		return "Listening..."
	case domain.AssistantStateProcessing:
		return "Processing..."
	case domain.AssistantStateError:
		return errorMessage
	default:
		return "Ready"
	}
}

func buttonLabel(state domain.AssistantState) string {
	switch state {
	case domain.AssistantStateListening:
		return "Stop Listening"
	case domain.AssistantStateProcessing:
		return "Processing..."
	case domain.AssistantStateError:
		return "Error"
	default:
		return "Start Listening"
	}
}
