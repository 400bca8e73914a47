package termweight

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: []string{}},
		{name: "short tokens dropped", text: "a an the cat", want: []string{"the", "cat"}},
		{name: "lowercase", text: "Apples ARE Fruit", want: []string{"apples", "are", "fruit"}},
		{name: "punctuation splits", text: "well-known,fact;here", want: []string{"well", "known", "fact", "here"}},
		{name: "underscore and digits", text: "snake_case v2 2024", want: []string{"snake_case", "2024"}},
		{name: "unicode letters", text: "Größe café ñu", want: []string{"größe", "café"}},
		{name: "combining marks split", text: "cafe\u0301 resume\u0301s", want: []string{"cafe", "resume"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text)
			require.Equal(t, len(tt.want), len(got))
			for i := range tt.want {
				require.Equal(t, tt.want[i], got[i])
			}
		})
	}
}

func TestEncodeBatchIDF(t *testing.T) {
	m := NewModel(IDFModeBatch)
	vecs := m.Encode([]string{
		"apple apple banana",
		"banana cherry",
	})
	require.Len(t, vecs, 2)

	// apple: tf 2/3, df 1 -> idf 1 + 2/2 = 2
	require.InDelta(t, 2.0/3.0*2.0, vecs[0]["apple"], 1e-12)
	// banana: tf 1/3, df 2 -> idf 1 + 2/3
	require.InDelta(t, 1.0/3.0*(1.0+2.0/3.0), vecs[0]["banana"], 1e-12)
	require.InDelta(t, 0.5*(1.0+2.0/3.0), vecs[1]["banana"], 1e-12)
	require.InDelta(t, 0.5*2.0, vecs[1]["cherry"], 1e-12)
	_, ok := vecs[0]["cherry"]
	require.False(t, ok)
}

func TestEncodeQueryIsSingleBatch(t *testing.T) {
	m := NewModel(IDFModeBatch)
	m.Encode([]string{"fruit fruit fruit", "vehicles"})

	q := m.EncodeQuery("fruit salad")
	// batch of one: idf = 1 + 1/(1+1)
	require.InDelta(t, 0.5*1.5, q["fruit"], 1e-12)
	require.InDelta(t, 0.5*1.5, q["salad"], 1e-12)
}

func TestEncodeEmptyText(t *testing.T) {
	m := NewModel(IDFModeBatch)
	vecs := m.Encode([]string{"", "a b"})
	require.Len(t, vecs, 2)
	require.Empty(t, vecs[0])
	require.Empty(t, vecs[1])
	require.Empty(t, m.Encode(nil))
}

func TestVocabularyGrowsMonotonically(t *testing.T) {
	m := NewModel(IDFModeBatch)
	m.Encode([]string{"alpha beta"})
	alpha, ok := m.TermID("alpha")
	require.True(t, ok)
	require.Equal(t, 2, m.VocabularySize())

	m.Encode([]string{"gamma alpha"})
	require.Equal(t, 3, m.VocabularySize())
	again, _ := m.TermID("alpha")
	require.Equal(t, alpha, again)

	m.EncodeQuery("delta")
	require.Equal(t, 4, m.VocabularySize())

	m.Reset()
	require.Equal(t, 0, m.VocabularySize())
}

func TestCorpusMode(t *testing.T) {
	m := NewModel(IDFModeCorpus)
	m.Encode([]string{"apples are fruit"})
	m.Encode([]string{"rockets are vehicles"})

	st := m.State()
	require.Equal(t, 2, st.NumTexts)
	require.Equal(t, 2, st.DocFreq["are"])
	require.Equal(t, 1, st.DocFreq["fruit"])

	q := m.EncodeQuery("fruit")
	// corpus of two texts, fruit df 1 -> idf 1 + 2/2
	require.InDelta(t, 2.0, q["fruit"], 1e-12)
	// queries do not join the corpus
	require.Equal(t, 2, m.State().NumTexts)

	m.Forget([]string{"apples are fruit"})
	st = m.State()
	require.Equal(t, 1, st.NumTexts)
	require.Equal(t, 1, st.DocFreq["are"])
	_, ok := st.DocFreq["fruit"]
	require.False(t, ok)
}

func TestStateRestore(t *testing.T) {
	m := NewModel(IDFModeCorpus)
	m.Encode([]string{"one two three", "three four five"})
	st := m.State()

	restored := NewModel(IDFModeCorpus)
	restored.Restore(st)
	require.Equal(t, st, restored.State())
	require.True(t, m.EncodeQuery("three four").Equal(restored.EncodeQuery("three four")))
}

func TestParseIDFMode(t *testing.T) {
	mode, err := ParseIDFMode("")
	require.NoError(t, err)
	require.Equal(t, IDFModeBatch, mode)

	mode, err = ParseIDFMode(" Corpus ")
	require.NoError(t, err)
	require.Equal(t, IDFModeCorpus, mode)

	_, err = ParseIDFMode("bm25")
	require.Error(t, err)
}

func TestRecountAndWeigh(t *testing.T) {
	m := NewModel(IDFModeCorpus)
	m.Encode([]string{"stale stale text"})
	m.Recount([]string{"apple pie", "apple tart"})

	st := m.State()
	require.Equal(t, 2, st.NumTexts)
	require.Equal(t, 2, st.DocFreq["apple"])
	_, ok := st.DocFreq["stale"]
	require.False(t, ok)
	_, ok = m.TermID("stale")
	require.True(t, ok)

	vecs := m.Weigh([]string{"apple pie"})
	// apple: tf 1/2, idf 1 + 2/3
	require.InDelta(t, 0.5*(1.0+2.0/3.0), vecs[0]["apple"], 1e-12)
	require.Equal(t, 2, m.State().NumTexts)

	batch := NewModel(IDFModeBatch)
	batch.Recount([]string{"apple"})
	require.Equal(t, 0, batch.State().NumTexts)
}
