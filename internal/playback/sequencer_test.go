package playback

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func payload(i int) []byte {
	return []byte(fmt.Sprintf("chunk-%d", i))
}

func waitDrained(t *testing.T, seq *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := seq.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestPlaysOutOfOrderArrivalsInOrder(t *testing.T) {
	player := NewMockPlayer()
	seq := NewSequencer(player, "mp3", zerolog.Nop())
	defer seq.Stop()

	for _, i := range []int{2, 0, 1} {
		if err := seq.Enqueue(i, payload(i)); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	waitDrained(t, seq)

	played := player.Played()
	if len(played) != 3 {
		t.Fatalf("played %d chunks, want 3", len(played))
	}
	for i, p := range played {
		if !bytes.Equal(p, payload(i)) {
			t.Fatalf("position %d played %q, want %q", i, p, payload(i))
		}
	}
	if seq.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", seq.Cursor())
	}
}

func TestGapHoldsPlaybackInBuffering(t *testing.T) {
	player := NewMockPlayer()
	seq := NewSequencer(player, "mp3", zerolog.Nop())
	defer seq.Stop()

	// Index 0 missing; 1 must wait.
	if err := seq.Enqueue(1, payload(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := seq.State(); got != StateBuffering {
		t.Fatalf("state = %q, want buffering", got)
	}
	if len(player.Played()) != 0 {
		t.Fatal("played ahead of the cursor")
	}

	if err := seq.Enqueue(0, payload(0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDrained(t, seq)
	played := player.Played()
	if len(played) != 2 {
		t.Fatalf("gap fill played %d chunks, want 2", len(played))
	}
	if !bytes.Equal(played[0], payload(0)) {
		t.Fatalf("first played chunk %q, want %q", played[0], payload(0))
	}
}

func TestSkipAdvancesPastFailedChunk(t *testing.T) {
	player := NewMockPlayer()
	seq := NewSequencer(player, "mp3", zerolog.Nop())
	defer seq.Stop()

	if err := seq.Enqueue(1, payload(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	seq.Skip(0)
	waitDrained(t, seq)

	played := player.Played()
	if len(played) != 1 || !bytes.Equal(played[0], payload(1)) {
		t.Fatalf("got %d plays, want just chunk 1", len(played))
	}
	if seq.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", seq.Cursor())
	}
}

func TestPauseHoldsAndResumeContinues(t *testing.T) {
	player := NewMockPlayer()
	seq := NewSequencer(player, "mp3", zerolog.Nop())
	defer seq.Stop()

	seq.Pause()
	if err := seq.Enqueue(0, payload(0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if len(player.Played()) != 0 {
		t.Fatal("played while paused")
	}
	if got := seq.State(); got != StatePaused {
		t.Fatalf("state = %q, want paused", got)
	}

	seq.Resume()
	waitDrained(t, seq)
	if len(player.Played()) != 1 {
		t.Fatalf("played %d chunks after resume, want 1", len(player.Played()))
	}
}

func TestStopDiscardsInFlightCompletion(t *testing.T) {
	player := NewMockPlayer()
	player.PlayDelay = 50 * time.Millisecond
	seq := NewSequencer(player, "mp3", zerolog.Nop())

	if err := seq.Enqueue(0, payload(0)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := seq.Enqueue(1, payload(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	seq.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := seq.State(); got != StateStopped {
		t.Fatalf("state = %q, want stopped", got)
	}
	// Chunk 0 was cancelled mid-play; chunk 1 must never start.
	for _, p := range player.Played() {
		if bytes.Equal(p, payload(1)) {
			t.Fatal("chunk after Stop was played")
		}
	}
	if err := seq.Enqueue(2, payload(2)); err != ErrStopped {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestOnAdvanceReportsProgress(t *testing.T) {
	player := NewMockPlayer()
	seq := NewSequencer(player, "mp3", zerolog.Nop())
	defer seq.Stop()

	progress := make(chan int, 8)
	seq.OnAdvance(func(index int) { progress <- index })

	for i := 0; i < 3; i++ {
		if err := seq.Enqueue(i, payload(i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitDrained(t, seq)

	for want := 0; want < 3; want++ {
		select {
		case got := <-progress:
			if got != want {
				t.Fatalf("progress %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no progress callback for index %d", want)
		}
	}
}
