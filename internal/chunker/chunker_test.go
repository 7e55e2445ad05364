package chunker

import (
	"strings"
	"testing"
)

func TestSplitEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t \n"} {
		if got := Split(in, Options{}); got != nil {
			t.Fatalf("Split(%q) = %v, want nil", in, got)
		}
	}
}

func TestSplitSingleChunkFastPath(t *testing.T) {
	got := Split("Hello   world.\n\n\nSecond  paragraph.", Options{MaxChars: 200})
	if len(got) != 1 {
		t.Fatalf("chunk count = %d, want 1", len(got))
	}
	want := "Hello world.\nSecond paragraph."
	if got[0] != want {
		t.Fatalf("chunk = %q, want %q", got[0], want)
	}
}

func TestSplitRespectsMaxChars(t *testing.T) {
	text := strings.Repeat("One short sentence here. ", 300) // ~7500 chars
	chunks := Split(text, Options{MaxChars: 1500, MinChars: 64})
	if len(chunks) < 2 {
		t.Fatalf("chunk count = %d, want multiple", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1500 {
			t.Fatalf("chunk %d length = %d, want <= 1500", i, len(c))
		}
	}
}

func TestSplitNeverSplitsWords(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 120)
	chunks := Split(text, Options{MaxChars: 300})
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(joined) {
		switch strings.Trim(word, ".,;:!?") {
		case "alpha", "beta", "gamma", "delta", "epsilon", "zeta":
		default:
			t.Fatalf("word split detected: %q", word)
		}
	}
}

func TestSplitReconstructsNormalizedContent(t *testing.T) {
	text := "First paragraph with   messy  spacing.\n\n" +
		strings.Repeat("A sentence that keeps going for a while before it ends. ", 40) +
		"\n\nClosing paragraph."
	chunks := Split(text, Options{MaxChars: 400, MinChars: 32})

	squash := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	got := squash(strings.Join(chunks, " "))
	want := squash(Normalize(text))
	if got != want {
		t.Fatalf("reconstructed content mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestSplitMergesShortTail(t *testing.T) {
	text := strings.Repeat("Steady sentence of medium length right here. ", 20) + "End."
	chunks := Split(text, Options{MaxChars: 250, MinChars: 40})
	if len(chunks) < 2 {
		t.Fatalf("chunk count = %d, want multiple", len(chunks))
	}
	for i, c := range chunks {
		if len(c) < 40 {
			t.Fatalf("chunk %d length = %d, want >= 40 (short tail not merged)", i, len(c))
		}
	}
}

func TestSplitOversizedSentenceFallsBackToClauses(t *testing.T) {
	text := strings.Repeat("clause one, clause two, clause three, ", 20) + "clause end."
	chunks := Split(text, Options{MaxChars: 120, MinChars: 10})
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Fatalf("chunk %d is empty", i)
		}
	}
	if len(chunks) < 3 {
		t.Fatalf("chunk count = %d, want clause-level splitting", len(chunks))
	}
}

func TestSplitWordWithNoSplitPointStaysWhole(t *testing.T) {
	word := strings.Repeat("x", 50)
	chunks := Split(word, Options{MaxChars: 10})
	if len(chunks) != 1 || chunks[0] != word {
		t.Fatalf("chunks = %v, want single oversized chunk", chunks)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := Normalize("a\tb   c\nd\n\n\ne  f")
	want := "a b c d\ne f"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestSplitSixThousandCharScenario(t *testing.T) {
	var b strings.Builder
	for b.Len() < 6000 {
		b.WriteString("The narrator reads another line of the chapter aloud. ")
	}
	chunks := Split(b.String(), Options{MaxChars: 1500})
	if len(chunks) < 2 {
		t.Fatalf("chunk count = %d, want multiple for 6000 chars at max 1500", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1500 {
			t.Fatalf("chunk %d length = %d, want <= 1500", i, len(c))
		}
	}
}
