package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the voice widget.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	TTS      TTSConfig      `yaml:"tts"`
	Rules    RulesConfig    `yaml:"rules"`
	UI       UIConfig       `yaml:"ui"`
}

type CaptureConfig struct {
	RecorderCommand string `yaml:"recorderCommand"`
	InputFormat     string `yaml:"inputFormat"`
	InputDevice     string `yaml:"inputDevice"`
	SampleRate      int    `yaml:"sampleRate"`
	Channels        int    `yaml:"channels"`
	Language        string `yaml:"language"`
}

type DeepgramConfig struct {
	APIKey     string `yaml:"apiKey"`
	APIBaseURL string `yaml:"apiBaseUrl"`
	Model      string `yaml:"model"`
}

type TTSConfig struct {
	BaseURL          string   `yaml:"baseUrl"`
	AuthToken        string   `yaml:"authToken"`
	PlayerCommand    string   `yaml:"playerCommand"`
	TargetLocale     string   `yaml:"targetLocale"`
	VendorPreference []string `yaml:"vendorPreference"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iterationLimit"`
}

type UIConfig struct {
	ErrorResetDelay time.Duration `yaml:"errorResetDelay"`
}

// Load resolves configuration from an optional YAML file and environment
// variables. Env vars win over file values; hard defaults sit below both.
func Load() (Config, error) {
	cfg := defaults()

	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("could not parse config file %q: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func configPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("VOICEBOX_CONFIG")); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "voicebox", "config.yaml"), nil
}

func defaults() Config {
	return Config{
		Capture: CaptureConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			Language:        "en-US",
		},
		Deepgram: DeepgramConfig{
			APIBaseURL: "https://api.deepgram.com/v1",
			Model:      "nova-2",
		},
		TTS: TTSConfig{
			BaseURL:          "http://localhost:8000",
			PlayerCommand:    "ffplay",
			TargetLocale:     "en-US",
			VendorPreference: []string{"Google", "Microsoft"},
		},
		Rules: RulesConfig{
			IterationLimit: 10,
		},
		UI: UIConfig{
			ErrorResetDelay: 3 * time.Second,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Capture.RecorderCommand, "VOICEBOX_FFMPEG_COMMAND")
	setString(&cfg.Capture.InputFormat, "VOICEBOX_AUDIO_INPUT_FORMAT")
	setString(&cfg.Capture.InputDevice, "VOICEBOX_AUDIO_INPUT_DEVICE")
	setInt(&cfg.Capture.SampleRate, "VOICEBOX_SAMPLE_RATE")
	setInt(&cfg.Capture.Channels, "VOICEBOX_CHANNELS")
	setString(&cfg.Capture.Language, "VOICEBOX_LANGUAGE")

	setString(&cfg.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	setString(&cfg.Deepgram.APIBaseURL, "DEEPGRAM_API_BASE")
	setString(&cfg.Deepgram.Model, "DEEPGRAM_MODEL")

	setString(&cfg.TTS.BaseURL, "VOICEBOX_TTS_URL")
	setString(&cfg.TTS.AuthToken, "VOICEBOX_TTS_TOKEN")
	setString(&cfg.TTS.PlayerCommand, "VOICEBOX_PLAYER_COMMAND")
	setString(&cfg.TTS.TargetLocale, "VOICEBOX_TTS_LOCALE")

	setString(&cfg.Rules.Path, "VOICEBOX_RULES_FILE")
	setInt(&cfg.Rules.IterationLimit, "VOICEBOX_RULE_ITERATION_LIMIT")

	if value := strings.TrimSpace(os.Getenv("VOICEBOX_ERROR_RESET_MS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			cfg.UI.ErrorResetDelay = time.Duration(parsed) * time.Millisecond
		}
	}
}

func sanitize(cfg *Config) {
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Capture.Channels <= 0 {
		cfg.Capture.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 10
	}
	if cfg.UI.ErrorResetDelay <= 0 {
		cfg.UI.ErrorResetDelay = 3 * time.Second
	}
	if len(cfg.TTS.VendorPreference) == 0 {
		cfg.TTS.VendorPreference = []string{"Google", "Microsoft"}
	}
}

func setString(target *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func setInt(target *int, key string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		*target = parsed
	}
}
