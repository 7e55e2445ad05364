package playback

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ebitengine/oto/v3"
)

const wavHeaderSize = 44

// OtoPlayer renders 16-bit mono PCM through the system audio device.
// The oto context is created once; Play calls are strictly sequential,
// which is exactly how the sequencer drives a Player.
type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
}

// NewOtoPlayer opens the audio device at the given sample rate.
func NewOtoPlayer(sampleRate int) (*OtoPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &OtoPlayer{ctx: ctx, sampleRate: sampleRate}, nil
}

// Play blocks until the payload has been rendered or ctx ends. Only raw
// PCM and WAV-wrapped PCM are playable; compressed formats must be
// exported to a file instead.
func (p *OtoPlayer) Play(ctx context.Context, audio []byte, format string) error {
	pcm := audio
	switch strings.ToLower(format) {
	case "pcm", "":
	case "wav":
		if len(pcm) <= wavHeaderSize {
			return fmt.Errorf("wav payload too short")
		}
		pcm = pcm[wavHeaderSize:]
	default:
		return fmt.Errorf("format %q is not playable on this device, use pcm", format)
	}
	if len(pcm) == 0 {
		return nil
	}

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}
