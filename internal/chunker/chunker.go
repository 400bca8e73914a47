// Package chunker splits extracted document text into overlapping,
// boundary-aware chunks used as the retrieval unit.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	// MinChunkChars is the trimmed length a chunk must exceed to be kept.
	MinChunkChars = 50
)

// Chunk is one window of the source text. Start and End are rune offsets
// into the text handed to SplitChunks.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

type Splitter struct {
	chunkSize int
	overlap   int
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	// a snapped window ends after start+size/2, so the next start only
	// advances while overlap stays below half the window.
	if s.overlap*2 >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }

func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the text of every kept chunk, in order.
func (s *Splitter) Split(text string) []string {
	chunks := s.SplitChunks(text)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Text)
	}
	return out
}

// SplitChunks walks a window of chunkSize runes over text. A window that
// stops short of the end is pulled back to just after the last '.' or '\n'
// when that boundary lies past the window midpoint. Consecutive windows
// share overlap runes.
func (s *Splitter) SplitChunks(text string) []Chunk {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	var chunks []Chunk
	start := 0
	for start < n {
		end := start + s.chunkSize
		if end < n {
			if bp := lastBoundary(runes, start+s.chunkSize/2, end); bp >= 0 {
				end = bp + 1
			}
		} else {
			end = n
		}
		content := collapse(string(runes[start:end]))
		if utf8.RuneCountInString(content) > MinChunkChars {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  content,
				Start: start,
				End:   end,
			})
		}
		if end >= n {
			break
		}
		next := end - s.overlap
		if next <= start {
			break
		}
		start = next
	}
	return chunks
}

// lastBoundary returns the index of the last sentence end or newline in
// runes[lo+1:hi], or -1.
func lastBoundary(runes []rune, lo, hi int) int {
	for i := hi - 1; i > lo; i-- {
		if runes[i] == '.' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Normalize strips NUL and U+FFFD, folds runs of horizontal whitespace into
// one space and runs of line breaks into one '\n'. Line breaks are kept so
// that SplitChunks can still snap windows to them; the emitted chunks have
// every whitespace run collapsed to a single space.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	pendingSpace, pendingBreak := false, false
	for _, r := range text {
		switch {
		case r == 0 || r == utf8.RuneError:
			continue
		case r == '\n' || r == '\r':
			pendingBreak = true
			continue
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		}
		if sb.Len() > 0 {
			if pendingBreak {
				sb.WriteByte('\n')
			} else if pendingSpace {
				sb.WriteByte(' ')
			}
		}
		pendingSpace, pendingBreak = false, false
		sb.WriteRune(r)
	}
	return sb.String()
}
