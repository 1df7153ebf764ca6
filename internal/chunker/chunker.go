// Package chunker splits extracted page text into embedding-sized
// pieces.
package chunker

import (
	"strings"
)

const (
	// targetSize is the soft upper bound per chunk, in bytes. Roughly
	// 300 tokens for English text, comfortably inside embedding-model
	// input limits.
	targetSize = 1200

	// minInput below which the text is not worth a chunk at all.
	minInput = 40
)

// Split breaks text into ordered chunks along sentence boundaries.
// Very short input yields zero chunks; callers that still want the
// text embedded fall back to a single whole-text chunk.
func Split(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) < minInput {
		return nil
	}

	sentences := splitSentences(text)
	var chunks []string
	var b strings.Builder

	for _, s := range sentences {
		if b.Len() > 0 && b.Len()+len(s)+1 > targetSize {
			chunks = append(chunks, strings.TrimSpace(b.String()))
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)

		// A single run-on sentence past the target gets flushed as
		// its own chunk rather than growing without bound.
		for b.Len() > targetSize {
			chunk := b.String()
			chunks = append(chunks, strings.TrimSpace(chunk[:targetSize]))
			rest := strings.TrimSpace(chunk[targetSize:])
			b.Reset()
			b.WriteString(rest)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Sentence ends only when followed by whitespace, so
			// "3.5" or "example.com" stay intact.
			if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' && text[i+1] != '\t' {
				continue
			}
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
