package deepgram

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voicebox/internal/audio"
	"voicebox/internal/domain"
	"voicebox/internal/logging"
	"voicebox/internal/ports"
)

// Config controls the recognition service connection.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

// recognitionStream is the provider socket a capture session feeds.
type recognitionStream interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan transcriptEvent
	Wait() error
	Close() error
}

// Capture implements one-shot speech recognition: each session records the
// microphone until the service produces a final transcript, then ends. Only
// one session may be active at a time.
type Capture struct {
	cfg  Config
	mic  audio.MicSource
	dial func(ctx context.Context, providerCfg Config, captureCfg ports.CaptureConfig) (recognitionStream, error)

	mu     sync.Mutex
	active bool
}

func NewCapture(cfg Config, mic audio.MicSource) *Capture {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Capture{
		cfg: cfg,
		mic: mic,
		dial: func(ctx context.Context, providerCfg Config, captureCfg ports.CaptureConfig) (recognitionStream, error) {
			return dialStream(ctx, providerCfg, captureCfg)
		},
	}
}

// Supported reports whether recognition can work at all on this host.
func (c *Capture) Supported() bool {
	return c.mic != nil && c.mic.Available() && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Start begins a one-shot session. It fails fast with ErrCaptureBusy when a
// session is already running; sessions are never queued.
func (c *Capture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if !c.Supported() {
		return nil, errors.New("speech capture is not supported on this host")
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, ports.ErrCaptureBusy
	}
	c.active = true
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := c.dial(sessionCtx, c.cfg, cfg)
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	session := &oneShotSession{
		id:      uuid.NewString(),
		events:  make(chan domain.CaptureEvent, 4),
		cancel:  cancel,
		stream:  stream,
		release: release,
	}

	mic, err := c.mic.Start(sessionCtx, cfg)
	if err != nil {
		logging.Warnw("microphone start failed", "session_id", session.id, "error", err)
		go session.failImmediately(classifyMicError(err))
		return session, nil
	}

	session.mic = mic
	logging.Debugw("capture session started", "session_id", session.id)
	go session.run()
	return session, nil
}

type oneShotSession struct {
	id      string
	events  chan domain.CaptureEvent
	cancel  context.CancelFunc
	mic     audio.Stream
	stream  recognitionStream
	release func()

	stopOnce sync.Once
	stopped  atomic.Bool
}

func (s *oneShotSession) Events() <-chan domain.CaptureEvent { return s.events }

// Stop cancels the session. Idempotent; the session still delivers its end
// event before the channel closes.
func (s *oneShotSession) Stop() error {
	s.stopped.Store(true)
	s.teardown()
	return nil
}

func (s *oneShotSession) teardown() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.mic != nil {
			_ = s.mic.Stop()
		}
		_ = s.stream.Close()
	})
}

// run drives the session to its single outcome: one result or one failure,
// then the end event.
func (s *oneShotSession) run() {
	defer close(s.events)
	defer s.release()

	micErr := make(chan error, 1)
	go s.pump(micErr)

	var text string
	for event := range s.stream.Events() {
		if event.Final && strings.TrimSpace(event.Text) != "" {
			text = strings.TrimSpace(event.Text)
			break
		}
	}

	if text != "" {
		logging.Debugw("capture session produced transcript", "session_id", s.id)
		s.events <- domain.CaptureEvent{Kind: domain.CaptureEventResult, Text: text}
		s.teardown()
		s.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
		return
	}

	// The stream ended before any final transcript arrived.
	streamErr := s.stream.Wait()
	s.teardown()

	if s.stopped.Load() {
		s.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
		return
	}

	select {
	case err := <-micErr:
		if err != nil {
			logging.Warnw("microphone stream failed", "session_id", s.id, "error", err)
			s.events <- domain.CaptureEvent{Kind: domain.CaptureEventError, Failure: classifyMicError(err)}
			s.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
			return
		}
	default:
	}

	if streamErr != nil {
		logging.Warnw("recognition stream failed", "session_id", s.id, "error", streamErr)
		s.events <- domain.CaptureEvent{Kind: domain.CaptureEventError, Failure: domain.CaptureFailureUnknown}
	} else {
		s.events <- domain.CaptureEvent{Kind: domain.CaptureEventError, Failure: domain.CaptureFailureNoSpeech}
	}
	s.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
}

// pump feeds microphone PCM into the recognition stream until either side
// ends. Microphone failures are reported for classification.
func (s *oneShotSession) pump(micErr chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := s.mic.Read(buf)
		if n > 0 {
			if sendErr := s.stream.SendAudio(buf[:n]); sendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				micErr <- err
			}
			_ = s.stream.CloseSend()
			return
		}
	}
}

// failImmediately reports a session that could not open the microphone.
func (s *oneShotSession) failImmediately(failure domain.CaptureFailure) {
	defer close(s.events)
	defer s.release()

	s.teardown()
	s.events <- domain.CaptureEvent{Kind: domain.CaptureEventError, Failure: failure}
	s.events <- domain.CaptureEvent{Kind: domain.CaptureEventEnd}
}

func classifyMicError(err error) domain.CaptureFailure {
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "permission denied") ||
		strings.Contains(text, "not allowed") ||
		strings.Contains(text, "access denied") {
		return domain.CaptureFailurePermission
	}
	return domain.CaptureFailureDevice
}
