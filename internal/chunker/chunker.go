// Package chunker splits normalized text into bounded-size segments whose
// order is preserved downstream by index.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultMaxChars bounds the size of a single synthesized segment.
	DefaultMaxChars = 1500
	// DefaultMinChars is the smallest segment emitted standalone.
	DefaultMinChars = 64
)

// Options configure a chunking pass. Zero values fall back to defaults.
type Options struct {
	MaxChars int
	MinChars int
}

func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinChars <= 0 {
		o.MinChars = DefaultMinChars
	}
	if o.MinChars > o.MaxChars {
		o.MinChars = o.MaxChars
	}
	return o
}

// Normalize collapses runs of whitespace to a single space and runs of
// blank lines to a single newline. The result is what cache keys are
// derived from, so it must stay stable across releases.
func Normalize(text string) string {
	paras := paragraphs(text)
	return strings.Join(paras, "\n")
}

// Split divides text into ordered segments, each at most MaxChars long.
// It is pure and never fails: input with no usable split point comes back
// as a single oversized segment rather than a mid-word cut. Empty or
// whitespace-only input yields nil.
func Split(text string, opts Options) []string {
	opts = opts.withDefaults()

	paras := paragraphs(text)
	if len(paras) == 0 {
		return nil
	}

	norm := strings.Join(paras, "\n")
	if len(norm) <= opts.MaxChars {
		return []string{norm}
	}

	var chunks []string
	var buf string
	flush := func() {
		if buf != "" {
			chunks = append(chunks, buf)
			buf = ""
		}
	}

	for _, p := range paras {
		if len(p) > opts.MaxChars {
			// Paragraph cannot be packed whole; split it down to
			// sentence and clause boundaries on its own.
			flush()
			frags := fragmentParagraph(p, opts.MaxChars)
			chunks = append(chunks, pack(frags, " ", opts.MaxChars, opts.MinChars)...)
			continue
		}
		switch {
		case buf == "":
			buf = p
		case len(buf)+1+len(p) <= opts.MaxChars:
			buf += "\n" + p
		default:
			flush()
			buf = p
		}
	}
	flush()

	return mergeShortTail(chunks, "\n", opts.MaxChars, opts.MinChars)
}

// paragraphs splits on blank lines and normalizes interior whitespace of
// each paragraph to single spaces.
func paragraphs(text string) []string {
	var out []string
	for _, raw := range splitBlankLines(text) {
		p := collapseSpaces(raw)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitBlankLines(text string) []string {
	var paras []string
	var cur strings.Builder
	blank := true
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if !blank {
				paras = append(paras, cur.String())
				cur.Reset()
				blank = true
			}
			continue
		}
		if !blank {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		blank = false
	}
	if !blank {
		paras = append(paras, cur.String())
	}
	return paras
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// fragmentParagraph reduces an oversized paragraph to fragments that fit
// maxChars where the text allows it. Sentences come first; a sentence
// that is still too long is cut at clause punctuation. A fragment with no
// valid split point is returned oversized as-is.
func fragmentParagraph(p string, maxChars int) []string {
	var frags []string
	for _, s := range splitAfter(p, ".!?") {
		if len(s) <= maxChars {
			frags = append(frags, s)
			continue
		}
		frags = append(frags, splitAfter(s, ",;:")...)
	}
	return frags
}

// splitAfter cuts s after any terminator rune that is followed by a space
// or ends the string, so a boundary never lands inside a word.
func splitAfter(s, terminators string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(terminators, rune(s[i])) {
			continue
		}
		end := i + 1
		for end < len(s) && strings.ContainsRune(terminators, rune(s[end])) {
			end++
		}
		if end < len(s) && s[end] != ' ' {
			i = end - 1
			continue
		}
		frag := strings.TrimSpace(s[start:end])
		if frag != "" {
			out = append(out, frag)
		}
		for end < len(s) && s[end] == ' ' {
			end++
		}
		start = end
		i = end - 1
	}
	if start < len(s) {
		if frag := strings.TrimSpace(s[start:]); frag != "" {
			out = append(out, frag)
		}
	}
	return out
}

// pack greedily joins fragments with sep up to maxChars per chunk.
func pack(frags []string, sep string, maxChars, minChars int) []string {
	var chunks []string
	var buf string
	for _, f := range frags {
		switch {
		case buf == "":
			buf = f
		case len(buf)+len(sep)+len(f) <= maxChars:
			buf += sep + f
		default:
			chunks = append(chunks, buf)
			buf = f
		}
	}
	if buf != "" {
		chunks = append(chunks, buf)
	}
	return mergeShortTail(chunks, sep, maxChars, minChars)
}

// mergeShortTail folds a trailing chunk shorter than minChars into its
// predecessor when the merged chunk still fits, so tiny fragments are not
// emitted standalone unless they are the only chunk.
func mergeShortTail(chunks []string, sep string, maxChars, minChars int) []string {
	n := len(chunks)
	if n < 2 {
		return chunks
	}
	last := chunks[n-1]
	if len(last) >= minChars {
		return chunks
	}
	if len(chunks[n-2])+len(sep)+len(last) > maxChars {
		return chunks
	}
	chunks[n-2] += sep + last
	return chunks[:n-1]
}
