// Package chunk splits raw note text into bounded, overlapping spans
// suitable for embedding.
//
// Chunk boundaries prefer sentence endings: when a sentence-final rune
// appears within the boundary tolerance below the maximum chunk length,
// the chunk ends there instead of hard-splitting mid-sentence. Otherwise
// the chunk is cut at the maximum length.
package chunk

import (
	"strings"
	"unicode"
)

// Default chunking parameters. Exposed so callers (and the config
// surface) can reference the same constants the chunker uses.
const (
	// DefaultMaxLen is the maximum chunk length in runes.
	DefaultMaxLen = 1200

	// DefaultOverlap is the number of runes repeated between adjacent chunks.
	DefaultOverlap = 200

	// DefaultBoundaryTolerance is how far below MaxLen the chunker will
	// search backwards for a sentence-ending boundary before giving up
	// and hard-splitting.
	DefaultBoundaryTolerance = 240
)

// Config controls chunking behavior.
type Config struct {
	// MaxLen is the maximum chunk length in runes. Default: DefaultMaxLen.
	MaxLen int

	// Overlap is the rune overlap between adjacent chunks.
	// Default: DefaultOverlap. Must be smaller than MaxLen.
	Overlap int

	// BoundaryTolerance is the sentence-boundary search window below
	// MaxLen. Default: DefaultBoundaryTolerance.
	BoundaryTolerance int
}

// withDefaults fills zero values with package defaults and clamps
// nonsensical combinations.
func (c Config) withDefaults() Config {
	if c.MaxLen <= 0 {
		c.MaxLen = DefaultMaxLen
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap == 0 && c.MaxLen == DefaultMaxLen {
		c.Overlap = DefaultOverlap
	}
	if c.Overlap >= c.MaxLen {
		c.Overlap = c.MaxLen / 4
	}
	if c.BoundaryTolerance <= 0 || c.BoundaryTolerance >= c.MaxLen {
		c.BoundaryTolerance = c.MaxLen / 5
	}
	return c
}

// Chunk is one bounded span of source text. Immutable once created;
// many chunks map to one source document.
type Chunk struct {
	// Source identifies the artifact the chunk came from
	// (file path or caller-supplied label).
	Source string

	// Index is the zero-based position of the chunk within its source.
	Index int

	// Start and End are rune offsets into the normalized source text.
	Start int
	End   int

	// Text is the chunk content.
	Text string
}

// Split chunks normalized text into overlapping windows.
//
// Whitespace-only input yields no chunks. Input shorter than the
// maximum length yields a single chunk covering the whole text.
func Split(source, text string, cfg Config) []Chunk {
	cfg = cfg.withDefaults()

	text = normalize(text)
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	index := 0
	for start < len(runes) {
		end := start + cfg.MaxLen
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Prefer a sentence-ending boundary within the tolerance
			// window; fall back to a hard split at MaxLen.
			if b := sentenceBoundary(runes, start+cfg.MaxLen-cfg.BoundaryTolerance, end); b > start {
				end = b
			}
		}

		// Trim surrounding whitespace and move the offsets with it, so
		// Start/End always locate exactly the stored text.
		lo, hi := start, end
		for lo < hi && unicode.IsSpace(runes[lo]) {
			lo++
		}
		for hi > lo && unicode.IsSpace(runes[hi-1]) {
			hi--
		}
		if lo < hi {
			chunks = append(chunks, Chunk{
				Source: source,
				Index:  index,
				Start:  lo,
				End:    hi,
				Text:   string(runes[lo:hi]),
			})
			index++
		}

		if end == len(runes) {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}

// sentenceBoundary returns the rune offset just past the last
// sentence-ending rune in runes[lo:hi), or -1 if none exists.
func sentenceBoundary(runes []rune, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	for i := hi - 1; i >= lo; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}
	return -1
}

// isSentenceEnd reports whether r terminates a sentence. Newlines count:
// note sources are markdown-ish and line breaks are safe split points.
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}

// normalize collapses carriage returns and trims trailing whitespace so
// offsets stay stable across producers with differing line endings.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimRightFunc(text, unicode.IsSpace)
}
