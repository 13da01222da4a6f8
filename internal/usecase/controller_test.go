package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"voicebox/internal/domain"
	"voicebox/internal/ports"
)

func TestToggleStartsListening(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	controller := newTestController(t, capture, &fakePlayback{}, &fakeResponder{}, Config{})

	controller.Toggle(context.Background())

	status := controller.Status()
	if status.State != domain.AssistantStateListening || !status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.ButtonLabel != "Stop Listening" {
		t.Fatalf("unexpected button label: %q", status.ButtonLabel)
	}
	if capture.calls != 1 {
		t.Fatalf("expected one capture session, got %d", capture.calls)
	}
}

func TestToggleWhileListeningStopsSession(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	controller := newTestController(t, capture, &fakePlayback{}, &fakeResponder{}, Config{})

	controller.Toggle(context.Background())
	controller.Toggle(context.Background())

	if controller.Status().State != domain.AssistantStateIdle {
		t.Fatalf("expected idle after toggle off, got %s", controller.Status().State)
	}
	if session.stops() == 0 {
		t.Fatalf("expected capture session to be stopped")
	}
	if capture.calls != 1 {
		t.Fatalf("expected no second capture session, got %d", capture.calls)
	}
}

func TestCaptureBusyStartSurfacesUnavailable(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{supported: true, startErr: ports.ErrCaptureBusy}
	events := &fakeEventSink{}
	controller := NewController(capture, &fakePlayback{}, &fakeResponder{}, nil, nil, events,
		Config{ErrorResetDelay: time.Hour})

	controller.Toggle(context.Background())

	status := controller.Status()
	if status.State != domain.AssistantStateError {
		t.Fatalf("expected error state, got %s", status.State)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeCaptureUnavailable {
		t.Fatalf("expected capture_unavailable error, got %+v", errs)
	}
}

func TestCaptureResultSpeaksReplyThenReturnsToIdle(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	playback := &fakePlayback{}
	responder := &fakeResponder{reply: "Hello there!"}
	controller := newTestController(t, capture, playback, responder, Config{})

	controller.Toggle(context.Background())
	session.result("hello voicebox")

	waitFor(t, func() bool { return len(playback.spoken()) == 1 })

	status := controller.Status()
	if status.State != domain.AssistantStateProcessing {
		t.Fatalf("expected processing, got %s", status.State)
	}
	if status.Transcript != "hello voicebox" || status.Response != "Hello there!" {
		t.Fatalf("unexpected display strings: %+v", status)
	}

	utterance := playback.spoken()[0]
	if utterance.Text != "Hello there!" {
		t.Fatalf("unexpected utterance text: %q", utterance.Text)
	}
	if utterance.Prosody.Rate != 0.95 || utterance.Prosody.Pitch != 1.0 || utterance.Prosody.Volume != 1.0 {
		t.Fatalf("unexpected prosody: %+v", utterance.Prosody)
	}
	if playback.cancelCount() == 0 {
		t.Fatalf("expected previous playback to be cancelled before speaking")
	}

	playback.finish()
	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateIdle })

	status = controller.Status()
	if status.Transcript != "" || status.Response != "" || status.Message != "Ready" {
		t.Fatalf("expected display reset, got %+v", status)
	}
}

func TestCaptureFailureMapsDistinctMessages(t *testing.T) {
	t.Parallel()

	cases := map[domain.CaptureFailure]struct {
		code    domain.ErrorCode
		message string
	}{
		domain.CaptureFailureNoSpeech:   {domain.ErrorCodeCaptureNoSpeech, "No speech was detected"},
		domain.CaptureFailureDevice:     {domain.ErrorCodeCaptureDeviceError, "Microphone is not available"},
		domain.CaptureFailurePermission: {domain.ErrorCodeCaptureDenied, "permission was denied"},
		domain.CaptureFailureUnknown:    {domain.ErrorCodeCaptureUnknown, "Something went wrong"},
	}

	for failure, want := range cases {
		failure := failure
		want := want
		t.Run(string(failure), func(t *testing.T) {
			t.Parallel()

			session := newFakeCaptureSession()
			capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
			events := &fakeEventSink{}
			controller := NewController(capture, &fakePlayback{}, &fakeResponder{}, nil, nil, events,
				Config{ErrorResetDelay: time.Hour})
			controller.Toggle(context.Background())

			session.fail(failure)
			waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateError })

			if !strings.Contains(controller.Status().Message, want.message) {
				t.Fatalf("unexpected message: %q", controller.Status().Message)
			}
			errs := events.snapshotErrors()
			if len(errs) == 0 || errs[len(errs)-1].code != want.code {
				t.Fatalf("expected error code %s, got %+v", want.code, errs)
			}
		})
	}
}

func TestErrorAutoResetsToIdle(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	controller := newTestController(t, capture, &fakePlayback{}, &fakeResponder{},
		Config{ErrorResetDelay: 40 * time.Millisecond})

	controller.Toggle(context.Background())
	session.fail(domain.CaptureFailureNoSpeech)

	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateError })
	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateIdle })

	if controller.Status().Message != "Ready" {
		t.Fatalf("expected default message after reset, got %q", controller.Status().Message)
	}
}

func TestSecondErrorRestartsResetWindow(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := NewController(&fakeCapture{supported: true}, &fakePlayback{}, &fakeResponder{},
		nil, nil, events, Config{ErrorResetDelay: 200 * time.Millisecond})

	controller.mu.Lock()
	controller.showErrorLocked(domain.ErrorCodeCaptureNoSpeech, "first")
	time.Sleep(100 * time.Millisecond)
	controller.mu.Lock()
	controller.showErrorLocked(domain.ErrorCodeCaptureDeviceError, "second")

	if !strings.Contains(controller.Status().Message, "Microphone is not available") {
		t.Fatalf("expected second error message, got %q", controller.Status().Message)
	}

	// 250ms after the first error, 150ms after the second: the first timer
	// must not have fired.
	time.Sleep(150 * time.Millisecond)
	if controller.Status().State != domain.AssistantStateError {
		t.Fatalf("reset fired from first error's timer")
	}

	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateIdle })

	idleResets := 0
	for _, state := range events.snapshotStates() {
		if state.reason == domain.ReasonErrorCleared {
			idleResets++
		}
	}
	if idleResets != 1 {
		t.Fatalf("expected exactly one reset to idle, got %d", idleResets)
	}
}

func TestUnexpectedCaptureEndResetsToIdle(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	controller := newTestController(t, capture, &fakePlayback{}, &fakeResponder{}, Config{})

	controller.Toggle(context.Background())
	session.end()

	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateIdle })
}

func TestCloseWhileListeningStopsSessionAndIgnoresLateEvents(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	playback := &fakePlayback{}
	controller := newTestController(t, capture, playback, &fakeResponder{reply: "late"}, Config{})

	controller.Toggle(context.Background())
	controller.Close()

	if session.stops() == 0 {
		t.Fatalf("expected session stop on close")
	}

	session.result("too late")
	time.Sleep(30 * time.Millisecond)
	if len(playback.spoken()) != 0 {
		t.Fatalf("late capture result must be ignored after close")
	}
}

func TestUnsupportedCaptureIsPermanentError(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{supported: false}
	events := &fakeEventSink{}
	controller := NewController(capture, &fakePlayback{}, &fakeResponder{}, nil, nil, events,
		Config{ErrorResetDelay: 20 * time.Millisecond})

	controller.Start(context.Background())

	status := controller.Status()
	if status.State != domain.AssistantStateError {
		t.Fatalf("expected error state, got %s", status.State)
	}
	if !strings.Contains(status.Message, "not supported") {
		t.Fatalf("unexpected message: %q", status.Message)
	}

	// No auto-reset and no reaction to toggling.
	time.Sleep(60 * time.Millisecond)
	controller.Toggle(context.Background())
	if controller.Status().State != domain.AssistantStateError {
		t.Fatalf("unsupported error must be permanent")
	}
	if capture.calls != 0 {
		t.Fatalf("toggle must not start capture when unsupported")
	}
}

func TestPermissionProbeFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{supported: true}
	prober := &fakeProber{err: context.DeadlineExceeded}
	events := &fakeEventSink{}
	controller := NewController(capture, &fakePlayback{}, &fakeResponder{}, nil, prober, events, Config{})

	controller.Start(context.Background())
	waitFor(t, func() bool { return prober.requested() })

	if controller.Status().State != domain.AssistantStateIdle {
		t.Fatalf("permission failure must not surface at init")
	}
	if len(events.snapshotErrors()) != 0 {
		t.Fatalf("unexpected error events: %+v", events.snapshotErrors())
	}
}

func TestResponderPanicSurfacesGenericMessage(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	events := &fakeEventSink{}
	controller := NewController(capture, &fakePlayback{}, &fakeResponder{panics: true}, nil, nil, events,
		Config{ErrorResetDelay: time.Hour})

	controller.Toggle(context.Background())
	session.result("anything")

	waitFor(t, func() bool { return controller.Status().State == domain.AssistantStateError })

	if !strings.Contains(controller.Status().Message, "trouble coming up with a response") {
		t.Fatalf("unexpected message: %q", controller.Status().Message)
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeResponderFailed {
		t.Fatalf("expected responder_failed, got %+v", errs)
	}
}

func TestNormalizerRunsBeforeResponder(t *testing.T) {
	t.Parallel()

	session := newFakeCaptureSession()
	capture := &fakeCapture{supported: true, sessions: []*fakeCaptureSession{session}}
	responder := &fakeResponder{reply: "ok"}
	normalizer := &fakeNormalizer{output: "normalized text"}
	controller := NewController(capture, &fakePlayback{}, responder, normalizer, nil, &fakeEventSink{}, Config{})

	controller.Toggle(context.Background())
	session.result("raw text")

	waitFor(t, func() bool { return responder.lastInput() == "normalized text" })
}

func newTestController(
	t *testing.T,
	capture ports.SpeechCapture,
	playback ports.SpeechPlayback,
	responder ports.Responder,
	cfg Config,
) *Controller {
	t.Helper()
	return NewController(capture, playback, responder, nil, nil, &fakeEventSink{}, cfg)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

type fakeCapture struct {
	supported bool
	sessions  []*fakeCaptureSession
	startErr  error
	calls     int
}

func (f *fakeCapture) Supported() bool { return f.supported }

func (f *fakeCapture) Start(_ context.Context, _ ports.CaptureConfig) (ports.CaptureSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.calls >= len(f.sessions) {
		return nil, ports.ErrCaptureBusy
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeCaptureSession struct {
	events chan domain.CaptureEvent

	mu        sync.Mutex
	stopCalls int
}

func newFakeCaptureSession() *fakeCaptureSession {
	return &fakeCaptureSession{events: make(chan domain.CaptureEvent, 8)}
}

func (f *fakeCaptureSession) Events() <-chan domain.CaptureEvent { return f.events }

func (f *fakeCaptureSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeCaptureSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeCaptureSession) result(text string) {
	f.events <- domain.CaptureEvent{Kind: domain.CaptureEventResult, Text: text}
	f.end()
}

func (f *fakeCaptureSession) fail(failure domain.CaptureFailure) {
	f.events <- domain.CaptureEvent{Kind: domain.CaptureEventError, Failure: failure}
	f.end()
}

func (f *fakeCaptureSession) end() {
	f.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
	close(f.events)
}

type fakePlayback struct {
	mu         sync.Mutex
	utterances []domain.Utterance
	onEnd      func()
	cancels    int
	speakErr   error
}

func (f *fakePlayback) Voices() []domain.Voice { return nil }

func (f *fakePlayback) Speak(_ context.Context, utterance domain.Utterance, onEnd func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speakErr != nil {
		return f.speakErr
	}
	f.utterances = append(f.utterances, utterance)
	f.onEnd = onEnd
	return nil
}

func (f *fakePlayback) CancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.onEnd = nil
}

func (f *fakePlayback) spoken() []domain.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Utterance, len(f.utterances))
	copy(out, f.utterances)
	return out
}

func (f *fakePlayback) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakePlayback) finish() {
	f.mu.Lock()
	onEnd := f.onEnd
	f.onEnd = nil
	f.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

type fakeResponder struct {
	mu     sync.Mutex
	reply  string
	panics bool
	last   string
}

func (f *fakeResponder) Reply(text string) string {
	f.mu.Lock()
	f.last = text
	f.mu.Unlock()
	if f.panics {
		panic("responder exploded")
	}
	if f.reply != "" {
		return f.reply
	}
	return text
}

func (f *fakeResponder) lastInput() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeNormalizer struct {
	output string
	err    error
}

func (f *fakeNormalizer) Normalize(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.output != "" {
		return f.output, nil
	}
	return text, nil
}

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeProber) Request(_ context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeProber) requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls > 0
}

type fakeEventSink struct {
	mu sync.Mutex

	states []stateEvent
	errs   []errEvent
}

type stateEvent struct {
	status domain.Status
	reason domain.StateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) StateChanged(status domain.Status, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{status: status, reason: reason})
}

func (f *fakeEventSink) AssistantError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errs))
	copy(out, f.errs)
	return out
}
