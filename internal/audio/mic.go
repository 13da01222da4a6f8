package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"voicebox/internal/ports"
)

// Stream is a live microphone PCM stream.
type Stream interface {
	io.ReadCloser
	Stop() error
}

// MicSource produces microphone PCM streams.
type MicSource interface {
	Available() bool
	Start(ctx context.Context, cfg ports.CaptureConfig) (Stream, error)
}

// FFmpegSource captures microphone PCM (s16le) by spawning ffmpeg.
type FFmpegSource struct {
	command string
}

func NewFFmpegSource(command string) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegSource{command: command}
}

// Available reports whether the capture binary can be found.
func (s *FFmpegSource) Available() bool {
	_, err := exec.LookPath(s.command)
	return err == nil
}

func (s *FFmpegSource) Start(ctx context.Context, cfg ports.CaptureConfig) (Stream, error) {
	cmd := exec.CommandContext(ctx, s.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Give the process a moment to fail on a bad device before handing the
	// stream out.
	select {
	case err := <-waitErr:
		detail := trimmed(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("capture process exited before audio started: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("capture process exited before audio started: %s", detail)
	case <-time.After(250 * time.Millisecond):
	}

	return &micStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func captureArgs(cfg ports.CaptureConfig) []string {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	inputFormat := cfg.InputFormat
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	inputDevice := cfg.InputDevice
	if inputDevice == "" {
		inputDevice = "default"
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", inputDevice,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	}
}

type micStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (m *micStream) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *micStream) Close() error {
	return m.Stop()
}

// Stop interrupts the capture process, escalating to a kill if it does not
// exit promptly. Idempotent.
func (m *micStream) Stop() error {
	m.stopOnce.Do(func() {
		if m.process != nil {
			_ = m.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-m.waitErr:
			if ok {
				m.stopErr = ignoreExitStatus(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if m.process != nil {
				_ = m.process.Kill()
			}
			err, ok := <-m.waitErr
			if ok {
				m.stopErr = ignoreExitStatus(err)
			}
		}

		if closeErr := m.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if m.stopErr == nil {
				m.stopErr = closeErr
			}
		}

		if m.stopErr != nil && m.stderr.Len() > 0 {
			m.stopErr = fmt.Errorf("%w: %s", m.stopErr, trimmed(m.stderr.String()))
		}
	})

	return m.stopErr
}

// ignoreExitStatus drops the non-zero exit ffmpeg reports when interrupted.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(s string) string {
	return string(bytes.TrimSpace([]byte(s)))
}
