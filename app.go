package main

import (
	"context"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicebox/internal/bootstrap"
	"voicebox/internal/config"
	"voicebox/internal/domain"
	"voicebox/internal/usecase"
)

const (
	eventState = "voicebox:state"
	eventError = "voicebox:error"
)

// App is the Wails application root. It binds the voice interaction
// controller to the frontend and relays its events.
type App struct {
	ctx context.Context

	controller *usecase.Controller
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.StateChanged(domain.Status{
			State:       domain.AssistantStateError,
			Active:      false,
			Message:     "Startup failed: " + err.Error(),
			ButtonLabel: "Error",
		}, domain.ReasonErrorDisplayed)
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.controller.Start(ctx)
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		a.controller.Close()
	}
}

// Toggle arms or cancels a listening session and returns the new status.
func (a *App) Toggle() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.controller.Toggle(a.ctx)
	return a.controller.Status(), nil
}

// GetStatus returns the current widget status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{
				State:       domain.AssistantStateError,
				Message:     a.bootErr.Error(),
				ButtonLabel: "Error",
			}
		}
		return domain.Status{State: domain.AssistantStateIdle, ButtonLabel: "Start Listening"}
	}
	return a.controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"recognition": "Deepgram",
		"model":       a.cfg.Deepgram.Model,
		"language":    a.cfg.Capture.Language,
		"ttsService":  a.cfg.TTS.BaseURL,
		"voiceLocale": a.cfg.TTS.TargetLocale,
		"audioInput":  a.cfg.Capture.InputDevice,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits widget state updates to the frontend.
func (a *App) StateChanged(status domain.Status, reason domain.StateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]string{
		"state":       string(status.State),
		"reason":      string(reason),
		"label":       stateLabel(status.State),
		"message":     status.Message,
		"transcript":  status.Transcript,
		"response":    status.Response,
		"buttonLabel": status.ButtonLabel,
	})
}

// AssistantError emits assistant errors to the frontend.
func (a *App) AssistantError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorHeadline(code),
		"detail":  detail,
	})
}

// stateLabel maps a state to the label the widget header shows.
func stateLabel(state domain.AssistantState) string {
	switch state {
	case domain.AssistantStateListening:
		return "listening"
	case domain.AssistantStateProcessing:
		return "processing"
	case domain.AssistantStateError:
		return "error"
	default:
		return "ready"
	}
}

func errorHeadline(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeCaptureUnsupported:
		return "Speech recognition unsupported"
	case domain.ErrorCodeCaptureUnavailable:
		return "Speech recognition unavailable"
	case domain.ErrorCodeCaptureStartFailed:
		return "Could not start listening"
	case domain.ErrorCodeCaptureDenied:
		return "Microphone permission denied"
	case domain.ErrorCodeCaptureNoSpeech:
		return "No speech detected"
	case domain.ErrorCodeCaptureDeviceError:
		return "Microphone unavailable"
	case domain.ErrorCodeCaptureUnknown:
		return "Speech recognition error"
	case domain.ErrorCodeResponderFailed:
		return "Response generation failed"
	default:
		return "Unknown error"
	}
}
