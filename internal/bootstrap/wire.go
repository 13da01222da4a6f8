package bootstrap

import (
	"context"
	"time"

	"voicebox/internal/audio"
	"voicebox/internal/config"
	"voicebox/internal/logging"
	"voicebox/internal/playback"
	"voicebox/internal/ports"
	"voicebox/internal/providers/deepgram"
	"voicebox/internal/responder"
	"voicebox/internal/rules"
	"voicebox/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Speaker    *playback.Speaker
	Config     config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	normalizer, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	captureCfg := ports.CaptureConfig{
		SampleRate:  cfg.Capture.SampleRate,
		Channels:    cfg.Capture.Channels,
		InputFormat: cfg.Capture.InputFormat,
		InputDevice: cfg.Capture.InputDevice,
		Language:    cfg.Capture.Language,
	}

	mic := audio.NewFFmpegSource(cfg.Capture.RecorderCommand)
	capture := deepgram.NewCapture(deepgram.Config{
		APIKey:     cfg.Deepgram.APIKey,
		APIBaseURL: cfg.Deepgram.APIBaseURL,
		Model:      cfg.Deepgram.Model,
	}, mic)

	speaker := playback.NewSpeaker(playback.Config{
		BaseURL:          cfg.TTS.BaseURL,
		AuthToken:        cfg.TTS.AuthToken,
		PlayerCommand:    cfg.TTS.PlayerCommand,
		TargetLocale:     cfg.TTS.TargetLocale,
		VendorPreference: cfg.TTS.VendorPreference,
	})

	// Voice discovery is best-effort: without a list the speaker falls back
	// to the platform default voice.
	voicesCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := speaker.RefreshVoices(voicesCtx); err != nil {
		logging.Warnw("voice discovery failed", "error", err)
	}

	controller := usecase.NewController(
		capture,
		speaker,
		responder.NewKeyword(),
		normalizer,
		audio.NewProber(mic, captureCfg),
		events,
		usecase.Config{
			Capture:         captureCfg,
			ErrorResetDelay: cfg.UI.ErrorResetDelay,
		},
	)

	return Services{Controller: controller, Speaker: speaker, Config: cfg}, nil
}
