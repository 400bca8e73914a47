// Package termweight builds TF-IDF style sparse vectors for chunks and
// queries and keeps the process vocabulary they are drawn from.
package termweight

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

type IDFMode string

const (
	// IDFModeBatch recomputes document frequencies over each Encode batch.
	// A query is a batch of one, so every query term gets IDF 1 + 1/2.
	IDFModeBatch IDFMode = "batch"
	// IDFModeCorpus accumulates document frequencies over every text ever
	// indexed. Vectors of older documents are not refreshed when the corpus
	// grows; Store.Rebuild brings them up to date.
	IDFModeCorpus IDFMode = "corpus"
)

const minTokenRunes = 3

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

func ParseIDFMode(s string) (IDFMode, error) {
	switch IDFMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", IDFModeBatch:
		return IDFModeBatch, nil
	case IDFModeCorpus:
		return IDFModeCorpus, nil
	default:
		return "", fmt.Errorf("unknown idf mode: %s", s)
	}
}

// Tokenize lowercases text and returns its word-character runs longer
// than two runes.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if utf8.RuneCountInString(tok) >= minTokenRunes {
			out = append(out, tok)
		}
	}
	return out
}

// State is the persisted part of a Model.
type State struct {
	Vocabulary map[string]int `json:"vocabulary"`
	DocFreq    map[string]int `json:"doc_freq,omitempty"`
	NumTexts   int            `json:"num_texts,omitempty"`
}

// Model is the term model shared by every document of a store. The
// vocabulary only grows; ids are assigned in first-seen order.
type Model struct {
	mu         sync.RWMutex
	mode       IDFMode
	vocabulary map[string]int
	docFreq    map[string]int
	numTexts   int
}

func NewModel(mode IDFMode) *Model {
	if mode == "" {
		mode = IDFModeBatch
	}
	return &Model{
		mode:       mode,
		vocabulary: make(map[string]int),
		docFreq:    make(map[string]int),
	}
}

func (m *Model) Mode() IDFMode { return m.mode }

func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocabulary = make(map[string]int)
	m.docFreq = make(map[string]int)
	m.numTexts = 0
}

func (m *Model) VocabularySize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vocabulary)
}

// TermID returns the stable id of term, if it has been seen.
func (m *Model) TermID(term string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.vocabulary[term]
	return id, ok
}

// Encode returns one vector per text, in order. In corpus mode the batch is
// added to the corpus statistics before weighting.
func (m *Model) Encode(texts []string) []Vector {
	tokens := make([][]string, len(texts))
	for i, text := range texts {
		tokens[i] = Tokenize(text)
	}
	batchDF := documentFrequency(tokens)

	m.mu.Lock()
	m.observe(tokens)
	var df map[string]int
	var n int
	if m.mode == IDFModeCorpus {
		for term, c := range batchDF {
			m.docFreq[term] += c
		}
		m.numTexts += len(texts)
		df, n = m.docFreq, m.numTexts
	} else {
		df, n = batchDF, len(texts)
	}
	out := weigh(tokens, df, n)
	m.mu.Unlock()
	return out
}

// EncodeQuery embeds a single query text. In corpus mode it is weighted
// against the corpus without being added to it.
func (m *Model) EncodeQuery(text string) Vector {
	if m.mode != IDFModeCorpus {
		return m.Encode([]string{text})[0]
	}
	return m.Weigh([]string{text})[0]
}

// Weigh returns vectors for texts using the corpus statistics without
// changing them. With an empty corpus the texts are weighted as a batch.
// In batch mode it is Encode.
func (m *Model) Weigh(texts []string) []Vector {
	if m.mode != IDFModeCorpus {
		return m.Encode(texts)
	}
	tokens := make([][]string, len(texts))
	for i, text := range texts {
		tokens[i] = Tokenize(text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe(tokens)
	n := m.numTexts
	df := m.docFreq
	if n == 0 {
		df, n = documentFrequency(tokens), len(texts)
	}
	return weigh(tokens, df, n)
}

// Recount replaces the corpus statistics with those of texts. The
// vocabulary is kept. It is a no-op in batch mode.
func (m *Model) Recount(texts []string) {
	if m.mode != IDFModeCorpus {
		return
	}
	tokens := make([][]string, len(texts))
	for i, text := range texts {
		tokens[i] = Tokenize(text)
	}
	df := documentFrequency(tokens)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe(tokens)
	m.docFreq = df
	m.numTexts = len(texts)
}

// Forget removes texts from the corpus statistics. It is a no-op in batch
// mode. The vocabulary is never shrunk.
func (m *Model) Forget(texts []string) {
	if m.mode != IDFModeCorpus {
		return
	}
	tokens := make([][]string, len(texts))
	for i, text := range texts {
		tokens[i] = Tokenize(text)
	}
	df := documentFrequency(tokens)
	m.mu.Lock()
	defer m.mu.Unlock()
	for term, c := range df {
		left := m.docFreq[term] - c
		if left <= 0 {
			delete(m.docFreq, term)
			continue
		}
		m.docFreq[term] = left
	}
	m.numTexts -= len(texts)
	if m.numTexts < 0 {
		m.numTexts = 0
	}
}

func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := State{
		Vocabulary: make(map[string]int, len(m.vocabulary)),
		NumTexts:   m.numTexts,
	}
	for term, id := range m.vocabulary {
		st.Vocabulary[term] = id
	}
	if m.mode == IDFModeCorpus {
		st.DocFreq = make(map[string]int, len(m.docFreq))
		for term, c := range m.docFreq {
			st.DocFreq[term] = c
		}
	}
	return st
}

func (m *Model) Restore(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vocabulary = make(map[string]int, len(st.Vocabulary))
	for term, id := range st.Vocabulary {
		m.vocabulary[term] = id
	}
	m.docFreq = make(map[string]int, len(st.DocFreq))
	m.numTexts = 0
	if m.mode == IDFModeCorpus {
		for term, c := range st.DocFreq {
			m.docFreq[term] = c
		}
		m.numTexts = st.NumTexts
	}
}

// observe must be called with mu held.
func (m *Model) observe(tokens [][]string) {
	for _, toks := range tokens {
		for _, tok := range toks {
			if _, ok := m.vocabulary[tok]; !ok {
				m.vocabulary[tok] = len(m.vocabulary)
			}
		}
	}
}

func documentFrequency(tokens [][]string) map[string]int {
	df := make(map[string]int)
	for _, toks := range tokens {
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	return df
}

func weigh(tokens [][]string, df map[string]int, n int) []Vector {
	out := make([]Vector, len(tokens))
	for i, toks := range tokens {
		vec := make(Vector)
		if len(toks) == 0 {
			out[i] = vec
			continue
		}
		counts := make(map[string]int, len(toks))
		for _, tok := range toks {
			counts[tok]++
		}
		total := float64(len(toks))
		for term, c := range counts {
			idf := 1.0 + float64(n)/float64(1+df[term])
			vec[term] = float64(c) / total * idf
		}
		out[i] = vec
	}
	return out
}
