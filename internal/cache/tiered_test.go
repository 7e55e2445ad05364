package cache

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func newTestTiered(t *testing.T) (*Tiered, *MemoryTier, *DiskTier) {
	t.Helper()
	mem := NewMemoryTier(1 << 20)
	disk, err := NewDiskTier(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDiskTier() error = %v", err)
	}
	t.Cleanup(func() { _ = disk.Close() })
	return NewTiered(mem, disk, zerolog.Nop()), mem, disk
}

func TestTieredWriteThroughBothTiers(t *testing.T) {
	tiered, mem, disk := newTestTiered(t)
	audio := []byte("write through audio")

	tiered.Put("k", audio, Meta{Format: "mp3"})

	if got, ok := mem.Get("k"); !ok || !bytes.Equal(got, audio) {
		t.Fatalf("volatile tier missing entry after Put")
	}
	if got, ok := disk.Get("k"); !ok || !bytes.Equal(got, audio) {
		t.Fatalf("persistent tier missing entry after Put")
	}
}

func TestTieredPromotesOnLowerTierHit(t *testing.T) {
	tiered, mem, disk := newTestTiered(t)
	audio := []byte("only on disk")

	if err := disk.Put("k", audio, Meta{}); err != nil {
		t.Fatalf("disk Put() error = %v", err)
	}
	if _, ok := mem.Get("k"); ok {
		t.Fatalf("entry unexpectedly in volatile tier before read")
	}

	got, ok := tiered.Get("k")
	if !ok || !bytes.Equal(got, audio) {
		t.Fatalf("tiered Get() = %v/%v, want hit", got, ok)
	}
	if _, ok := mem.Get("k"); !ok {
		t.Fatalf("entry not promoted to volatile tier after lower-tier hit")
	}
}

func TestTieredMiss(t *testing.T) {
	tiered, _, _ := newTestTiered(t)
	if _, ok := tiered.Get("absent"); ok {
		t.Fatalf("Get() hit for absent key")
	}
}

func TestTieredMemoryOnly(t *testing.T) {
	tiered := NewTiered(NewMemoryTier(0), nil, zerolog.Nop())
	tiered.Put("k", []byte("v"), Meta{})
	if got, ok := tiered.Get("k"); !ok || string(got) != "v" {
		t.Fatalf("memory-only tiered Get() = %q/%v", got, ok)
	}
	if _, ok := tiered.Stats()["persistent"]; ok {
		t.Fatalf("Stats() reports persistent tier that does not exist")
	}
}
