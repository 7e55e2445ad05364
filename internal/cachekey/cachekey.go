// Package cachekey derives content-addressed keys for synthesized audio.
//
// The key covers the normalized segment text plus every synthesis
// parameter that changes the audio, so identical requests always land on
// the same cache entry across processes and restarts. SHA-1 is used for
// collision resistance only; the key is not a security boundary.
package cachekey

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Version is folded into every key so a change to the derivation rule
// invalidates old entries instead of colliding with them.
const Version = "v1"

const fieldSep = "\x1f"

// Params are the synthesis parameters that affect audio output.
type Params struct {
	Voice      string
	Preset     string
	Speed      float64
	Pitch      float64
	Format     string
	SampleRate int
}

func (p Params) normalized() Params {
	if p.Speed <= 0 {
		p.Speed = 1.0
	}
	if p.Format == "" {
		p.Format = "mp3"
	}
	if p.SampleRate <= 0 {
		p.SampleRate = 24000
	}
	p.Voice = strings.TrimSpace(p.Voice)
	p.Preset = strings.TrimSpace(p.Preset)
	return p
}

// Derive returns a fixed-length hex digest for normalizedText under p.
// Same inputs always produce the same key; any parameter change produces
// a different key.
func Derive(normalizedText string, p Params) string {
	p = p.normalized()
	joined := strings.Join([]string{
		Version,
		normalizedText,
		p.Voice,
		p.Preset,
		strconv.FormatFloat(p.Speed, 'f', -1, 64),
		strconv.FormatFloat(p.Pitch, 'f', -1, 64),
		p.Format,
		strconv.Itoa(p.SampleRate),
	}, fieldSep)

	sum := sha1.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// String renders params for logs and error messages.
func (p Params) String() string {
	p = p.normalized()
	return fmt.Sprintf("voice=%s preset=%s speed=%g pitch=%g format=%s rate=%d",
		p.Voice, p.Preset, p.Speed, p.Pitch, p.Format, p.SampleRate)
}
