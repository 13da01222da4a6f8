package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicebox/internal/domain"
	"voicebox/internal/logging"
)

// Config controls speech synthesis and playback.
type Config struct {
	BaseURL          string
	AuthToken        string
	PlayerCommand    string
	TargetLocale     string
	VendorPreference []string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// Speaker renders utterances by synthesizing audio through an external TTS
// service and piping it into a local player process. At most one utterance is
// audible at a time.
type Speaker struct {
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	voices  []domain.Voice
	current *playingUtterance
}

type playingUtterance struct {
	process   *os.Process
	onEnd     func()
	cancelled bool
}

func NewSpeaker(cfg Config) *Speaker {
	if cfg.PlayerCommand == "" {
		cfg.PlayerCommand = "ffplay"
	}
	if cfg.TargetLocale == "" {
		cfg.TargetLocale = "en-US"
	}
	if len(cfg.VendorPreference) == 0 {
		cfg.VendorPreference = []string{"Google", "Microsoft"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Speaker{cfg: cfg, client: client}
}

// RefreshVoices fetches the synthesis voice list and caches it. Best-effort:
// callers may ignore the error and fall back to the platform default voice.
func (s *Speaker) RefreshVoices(ctx context.Context) error {
	if s.cfg.BaseURL == "" {
		return fmt.Errorf("tts service is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.cfg.BaseURL, "/")+"/voices", nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("voice list returned status %d", resp.StatusCode)
	}

	var voices []domain.Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return fmt.Errorf("failed to decode voice list: %w", err)
	}

	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
	return nil
}

// Voices returns the cached voice list.
func (s *Speaker) Voices() []domain.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Speak synthesizes the utterance and starts playback, superseding any
// in-flight utterance. onEnd fires exactly once when the new utterance stops
// being audible; a superseded utterance never fires its onEnd.
func (s *Speaker) Speak(ctx context.Context, utterance domain.Utterance, onEnd func()) error {
	if utterance.Voice == (domain.Voice{}) {
		utterance.Voice = PickVoice(s.Voices(), s.cfg.VendorPreference, s.cfg.TargetLocale)
	}

	wav, err := s.synthesize(ctx, utterance)
	if err != nil {
		return err
	}

	cmd := exec.Command(s.cfg.PlayerCommand, playerArgs(utterance.Prosody)...)
	cmd.Stdin = bytes.NewReader(wav)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start audio player: %w", err)
	}

	playing := &playingUtterance{process: cmd.Process, onEnd: onEnd}

	s.mu.Lock()
	s.cancelLocked()
	s.current = playing
	s.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()

		s.mu.Lock()
		cancelled := playing.cancelled
		if s.current == playing {
			s.current = nil
		}
		s.mu.Unlock()

		if cancelled {
			return
		}
		if waitErr != nil {
			logging.Warnw("audio player exited abnormally", "utterance_id", utterance.ID, "error", waitErr)
		}
		if playing.onEnd != nil {
			playing.onEnd()
		}
	}()

	return nil
}

// CancelAll silences any in-flight utterance. Its onEnd does not fire.
func (s *Speaker) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Speaker) cancelLocked() {
	if s.current == nil {
		return
	}
	s.current.cancelled = true
	if s.current.process != nil {
		_ = s.current.process.Kill()
	}
	s.current = nil
}

func (s *Speaker) synthesize(ctx context.Context, utterance domain.Utterance) ([]byte, error) {
	if s.cfg.BaseURL == "" {
		return nil, fmt.Errorf("tts service is not configured")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"text":   utterance.Text,
		"voice":  utterance.Voice.Name,
		"locale": utterance.Voice.Locale,
		"rate":   utterance.Prosody.Rate,
		"pitch":  utterance.Prosody.Pitch,
		"volume": utterance.Prosody.Volume,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (s *Speaker) authorize(req *http.Request) {
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
}

func playerArgs(prosody domain.Prosody) []string {
	volume := int(prosody.Volume * 100)
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	return []string{
		"-autoexit",
		"-nodisp",
		"-hide_banner",
		"-loglevel", "quiet",
		"-volume", strconv.Itoa(volume),
		"-i", "-",
	}
}

// PickVoice selects a synthesis voice by fixed preference: a name signalling
// a preferred vendor, then a locale match, then the platform default.
func PickVoice(voices []domain.Voice, vendors []string, locale string) domain.Voice {
	for _, vendor := range vendors {
		for _, voice := range voices {
			if strings.Contains(strings.ToLower(voice.Name), strings.ToLower(vendor)) {
				return voice
			}
		}
	}
	for _, voice := range voices {
		if strings.EqualFold(voice.Locale, locale) {
			return voice
		}
	}
	return domain.Voice{}
}
