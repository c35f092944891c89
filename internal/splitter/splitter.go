// Package splitter breaks long text into overlapping chunks, preferring
// paragraph, then line, then word boundaries.
package splitter

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character text splitter. Sizes are in runes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// New returns a Splitter, falling back to the defaults for non-positive sizes
// and clamping an overlap that is not smaller than the chunk size.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Separators: defaultSeparators}
}

// Split returns the chunks of text. Whitespace-only input yields none.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, seps []string) []string {
	// Use the first separator present in the text; "" always matches.
	sep := seps[len(seps)-1]
	var rest []string
	for i, cand := range seps {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = runes(text)
	} else {
		pieces = strings.Split(text, sep)
	}

	var chunks, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= s.ChunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, p)
		} else {
			chunks = append(chunks, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, sep)...)
	}
	return chunks
}

// merge packs pieces into chunks of at most ChunkSize runes, starting each new
// chunk with up to ChunkOverlap runes of trailing pieces from the previous one.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var chunks []string
	var window []string
	total := 0

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		joined := 0
		if len(window) > 0 {
			joined = sepLen
		}
		if total+n+joined > s.ChunkSize && len(window) > 0 {
			if c := strings.TrimSpace(strings.Join(window, sep)); c != "" {
				chunks = append(chunks, c)
			}
			// Drop from the front until the window fits the overlap and the
			// next piece.
			for len(window) > 0 && (total > s.ChunkOverlap || total+n+sepLenIf(len(window) > 0, sepLen) > s.ChunkSize) {
				total -= utf8.RuneCountInString(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	if c := strings.TrimSpace(strings.Join(window, sep)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func sepLenIf(cond bool, n int) int {
	if cond {
		return n
	}
	return 0
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
