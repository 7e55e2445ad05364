package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := make([]byte, 480)
	out, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE: %v", err)
	}
	if len(out) != 44+len(pcm) {
		t.Fatalf("got %d bytes, want %d", len(out), 44+len(pcm))
	}
	if !bytes.Equal(out[:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatalf("bad container magic: %q %q", out[:4], out[8:12])
	}
	rate := binary.LittleEndian.Uint32(out[24:28])
	if rate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", rate)
	}
	dataSize := binary.LittleEndian.Uint32(out[40:44])
	if int(dataSize) != len(pcm) {
		t.Fatalf("data size = %d, want %d", dataSize, len(pcm))
	}
}

func TestEstimateDurationMs(t *testing.T) {
	tests := []struct {
		name       string
		bytes      int
		format     string
		sampleRate int
		want       int64
	}{
		{"pcm one second", 48000, "pcm", 24000, 1000},
		{"pcm half second", 24000, "pcm", 24000, 500},
		{"mp3 nominal", 16000, "mp3", 0, 1000},
		{"unknown treated as mp3", 16000, "weird", 0, 1000},
		{"empty", 0, "pcm", 24000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateDurationMs(make([]byte, tt.bytes), tt.format, tt.sampleRate)
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}
