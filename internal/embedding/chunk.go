package embedding

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkRunes bounds chunk size well inside the input window of the
// supported embedding models.
const DefaultChunkRunes = 1600

// Chunker splits document text into pieces small enough to embed,
// preferring paragraph boundaries and packing consecutive paragraphs
// together up to the size limit.
type Chunker struct {
	maxRunes int
}

// NewChunker returns a chunker with the given rune limit per chunk.
// Non-positive limits fall back to DefaultChunkRunes.
func NewChunker(maxRunes int) *Chunker {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}
	return &Chunker{maxRunes: maxRunes}
}

// Split breaks text into chunks. Blank-line paragraph boundaries are
// preserved where possible; a single paragraph over the limit is split
// mid-text. Whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.maxRunes {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		runes  int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			runes = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if n > c.maxRunes {
			flush()
			chunks = append(chunks, splitRunes(para, c.maxRunes)...)
			continue
		}
		// +2 accounts for the rejoined paragraph separator.
		if runes > 0 && runes+n+2 > c.maxRunes {
			flush()
		}
		if runes > 0 {
			cur.WriteString("\n\n")
			runes += 2
		}
		cur.WriteString(para)
		runes += n
	}
	flush()
	return chunks
}

// splitRunes cuts s into pieces of at most maxRunes runes without
// breaking a rune apart.
func splitRunes(s string, maxRunes int) []string {
	var pieces []string
	for len(s) > 0 {
		if utf8.RuneCountInString(s) <= maxRunes {
			pieces = append(pieces, s)
			break
		}
		end := 0
		for i := 0; i < maxRunes; i++ {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
		}
		pieces = append(pieces, s[:end])
		s = s[end:]
	}
	return pieces
}
