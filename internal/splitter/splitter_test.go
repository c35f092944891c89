package splitter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_Empty(t *testing.T) {
	s := New(100, 10)
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if got := s.Split(in); got != nil {
			t.Errorf("Split(%q) = %v, want nil", in, got)
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	got := New(100, 10).Split("  a short paragraph  ")
	if len(got) != 1 || got[0] != "a short paragraph" {
		t.Errorf("got %q", got)
	}
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	para := strings.Repeat("word ", 60)
	text := strings.Join([]string{para, para, para}, "\n\n") + "\n" + strings.Repeat("x", 250)

	s := New(100, 20)
	chunks := s.Split(text)
	if len(chunks) < 5 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d has %d runes, want <= 100", i, n)
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	text := "first paragraph here\n\nsecond paragraph here"
	chunks := New(25, 0).Split(text)
	if len(chunks) != 2 || chunks[0] != "first paragraph here" || chunks[1] != "second paragraph here" {
		t.Errorf("got %q", chunks)
	}
}

func TestSplit_Overlap(t *testing.T) {
	words := make([]string, 50)
	for i := range words {
		words[i] = "w" + strings.Repeat("x", i%3)
	}
	chunks := New(40, 12).Split(strings.Join(words, " "))
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		first := strings.Fields(chunks[i])[0]
		if prev[len(prev)-1] != first && !strings.Contains(chunks[i-1], first) {
			t.Errorf("chunk %d does not overlap with chunk %d:\n%q\n%q", i, i-1, chunks[i-1], chunks[i])
		}
	}
}

func TestSplit_CoversAllWords(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"
	chunks := New(20, 5).Split(text)
	joined := strings.Join(chunks, " ")
	for _, w := range strings.Fields(text) {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q lost", w)
		}
	}
}

func TestSplit_UnbrokenTextFallsBackToRunes(t *testing.T) {
	text := strings.Repeat("é", 45)
	chunks := New(20, 5).Split(text)
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 20 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
	if len(chunks) < 3 {
		t.Errorf("got %d chunks, want >= 3", len(chunks))
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(0, -1)
	if s.ChunkSize != DefaultChunkSize || s.ChunkOverlap != 0 {
		t.Errorf("New(0,-1) = %+v", s)
	}
	s = New(100, 200)
	if s.ChunkOverlap >= s.ChunkSize {
		t.Errorf("overlap %d not clamped below size %d", s.ChunkOverlap, s.ChunkSize)
	}
}
