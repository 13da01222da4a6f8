package audio

import (
	"context"
	"time"

	"voicebox/internal/ports"
)

// Prober opens the microphone for a split second to trigger the platform
// permission prompt early. The result is advisory: callers log failures and
// move on, and a denial only surfaces later when capture actually fails.
type Prober struct {
	source MicSource
	cfg    ports.CaptureConfig
}

func NewProber(source MicSource, cfg ports.CaptureConfig) *Prober {
	return &Prober{source: source, cfg: cfg}
}

func (p *Prober) Request(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stream, err := p.source.Start(probeCtx, p.cfg)
	if err != nil {
		return err
	}
	return stream.Stop()
}
