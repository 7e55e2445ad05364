package audio

import "strings"

// Nominal compressed bitrates used when the container carries no timing
// information of its own.
const (
	mp3BitsPerSecond  = 128_000
	opusBitsPerSecond = 64_000
)

// EstimateDurationMs gives a coarse playback-length estimate for one
// audio payload. PCM is exact; compressed formats assume the encoder's
// nominal bitrate. The estimate drives prefetch pacing only, never
// correctness, so being off by a fraction is acceptable.
func EstimateDurationMs(data []byte, format string, sampleRate int) int64 {
	if len(data) == 0 {
		return 0
	}
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	switch strings.ToLower(format) {
	case "pcm", "wav":
		// 16-bit mono samples.
		bytesPerSecond := sampleRate * 2
		return int64(len(data)) * 1000 / int64(bytesPerSecond)
	case "opus":
		return int64(len(data)) * 8 * 1000 / opusBitsPerSecond
	default:
		// mp3, aac, flac and anything unrecognized.
		return int64(len(data)) * 8 * 1000 / mp3BitsPerSecond
	}
}
