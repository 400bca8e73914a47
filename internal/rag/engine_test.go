package rag

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/askscribe/internal/ai"
	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/indexstore"
	"github.com/xxxsen/askscribe/internal/retrieval"
)

type fakeSearcher struct {
	results []retrieval.Result
	err     error
	calls   int
	lastK   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, ownerID string, k int) ([]retrieval.Result, error) {
	f.calls++
	f.lastK = k
	return f.results, f.err
}

type fakeSynthesizer struct {
	replies     []string
	errs        []error
	calls       int
	lastContext string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, question string, contextText string) (string, error) {
	i := f.calls
	f.calls++
	f.lastContext = contextText
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "answer", nil
}

type ownerScope map[int64]string

func (o ownerScope) VisibleDocuments(ctx context.Context, ownerID string) (map[int64]string, error) {
	return o, nil
}

type nopRecorder struct{}

func (nopRecorder) Begin(ctx context.Context) (retrieval.ChunkTx, error) { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) InsertChunks(ctx context.Context, docID int64, chunks []chunker.Chunk) error {
	return nil
}
func (nopTx) DeleteChunks(ctx context.Context, docID int64) error { return nil }
func (nopTx) Commit() error                                       { return nil }
func (nopTx) Rollback() error                                     { return nil }

func testConfig() Config {
	return Config{Timeout: time.Second, Retries: 2, RetryInterval: time.Millisecond, CacheSize: 8, CacheTTL: time.Minute}
}

func twoResults() []retrieval.Result {
	return []retrieval.Result{
		{Content: "apples are fruit", Score: 0.9, DocumentID: 1, DocumentName: "apples.txt"},
		{Content: "pears are fruit", Score: 0.4, DocumentID: 2, DocumentName: "pears.txt", ChunkIndex: 3},
	}
}

func TestAnswerEmptyStoreSkipsSynthesizer(t *testing.T) {
	snapshots, err := indexstore.NewLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	store := retrieval.NewStore(nil, snapshots, nil, nil)
	synth := &fakeSynthesizer{}

	out := NewEngine(store, synth, testConfig()).Answer(context.Background(), "what is a fruit?", "alice")
	require.Equal(t, NotInContextAnswer, out.Text)
	require.Empty(t, out.Sources)
	require.Equal(t, 0, synth.calls)
}

func TestAnswerUsesChunksWithoutSharedTerms(t *testing.T) {
	ctx := context.Background()
	snapshots, err := indexstore.NewLocal(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	store := retrieval.NewStore(nil, snapshots, nopRecorder{}, ownerScope{1: "apples.txt"})
	require.NoError(t, store.AddDocument(ctx, 1, []chunker.Chunk{{Text: "apples are fruit and grow on trees"}}))
	synth := &fakeSynthesizer{replies: []string{"no zebras here"}}

	out := NewEngine(store, synth, testConfig()).Answer(ctx, "zebra", "alice")
	require.Equal(t, "no zebras here", out.Text)
	require.Equal(t, []Source{{Name: "apples.txt", Score: 0}}, out.Sources)
	require.Equal(t, 1, synth.calls)
	require.Equal(t, "apples are fruit and grow on trees", synth.lastContext)
}

func TestAnswerBuildsContextInRankOrder(t *testing.T) {
	searcher := &fakeSearcher{results: twoResults()}
	synth := &fakeSynthesizer{replies: []string{"**Fruit**"}}

	out := NewEngine(searcher, synth, testConfig()).Answer(context.Background(), "fruit?", "alice")
	require.Equal(t, "**Fruit**", out.Text)
	require.Equal(t, []Source{{Name: "apples.txt", Score: 0.9}, {Name: "pears.txt", Score: 0.4}}, out.Sources)
	require.Equal(t, "apples are fruit\n\npears are fruit", synth.lastContext)
	require.Equal(t, DefaultTopK, searcher.lastK)
}

func TestAnswerSearchFailure(t *testing.T) {
	synth := &fakeSynthesizer{}
	out := NewEngine(&fakeSearcher{err: errors.New("db down")}, synth, testConfig()).Answer(context.Background(), "q", "alice")
	require.Equal(t, ErrorAnswer, out.Text)
	require.Empty(t, out.Sources)
	require.Equal(t, 0, synth.calls)
}

func TestAnswerRetriesSynthesis(t *testing.T) {
	synth := &fakeSynthesizer{
		errs:    []error{errors.New("timeout"), errors.New("timeout")},
		replies: []string{"", "", "third time"},
	}
	out := NewEngine(&fakeSearcher{results: twoResults()}, synth, testConfig()).Answer(context.Background(), "q", "alice")
	require.Equal(t, "third time", out.Text)
	require.Equal(t, 3, synth.calls)
}

func TestAnswerSynthesisFailure(t *testing.T) {
	boom := errors.New("quota")
	synth := &fakeSynthesizer{errs: []error{boom, boom, boom, boom}}
	out := NewEngine(&fakeSearcher{results: twoResults()}, synth, testConfig()).Answer(context.Background(), "q", "alice")
	require.Equal(t, ErrorAnswer, out.Text)
	require.Empty(t, out.Sources)
	require.Equal(t, 3, synth.calls)
}

func TestAnswerUnavailableIsNotRetried(t *testing.T) {
	synth := &fakeSynthesizer{errs: []error{ai.ErrUnavailable}}
	out := NewEngine(&fakeSearcher{results: twoResults()}, synth, testConfig()).Answer(context.Background(), "q", "alice")
	require.Equal(t, ErrorAnswer, out.Text)
	require.Equal(t, 1, synth.calls)
}

func TestAnswerCache(t *testing.T) {
	searcher := &fakeSearcher{results: twoResults()}
	synth := &fakeSynthesizer{}
	engine := NewEngine(searcher, synth, testConfig())

	first := engine.Answer(context.Background(), "q", "alice")
	second := engine.Answer(context.Background(), "q", "alice")
	require.Equal(t, first, second)
	require.Equal(t, 1, synth.calls)

	engine.Answer(context.Background(), "another question", "alice")
	require.Equal(t, 2, synth.calls)

	noCache := NewEngine(searcher, synth, Config{})
	noCache.Answer(context.Background(), "q", "alice")
	noCache.Answer(context.Background(), "q", "alice")
	require.Equal(t, 4, synth.calls)
}
