// Package retrieval keeps the per-document chunk texts and term vectors,
// persists them as a JSON snapshot and answers scoped similarity searches.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/indexstore"
	"github.com/xxxsen/askscribe/internal/termweight"
)

const (
	DefaultTopK     = 5
	EmbeddingType   = "TF-IDF"
	snapshotVersion = 1
)

// Scope resolves which documents an owner may search, keyed by document id
// with the display name as value.
type Scope interface {
	VisibleDocuments(ctx context.Context, ownerID string) (map[int64]string, error)
}

// ChunkRecorder opens transactions over the durable chunk records.
type ChunkRecorder interface {
	Begin(ctx context.Context) (ChunkTx, error)
}

type ChunkTx interface {
	InsertChunks(ctx context.Context, docID int64, chunks []chunker.Chunk) error
	DeleteChunks(ctx context.Context, docID int64) error
	Commit() error
	Rollback() error
}

type Result struct {
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	DocumentID   int64   `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_id"`
}

type Stats struct {
	TotalChunks    int    `json:"total_chunks"`
	TotalDocuments int    `json:"total_documents"`
	EmbeddingType  string `json:"embedding_type"`
}

// entry holds aligned chunk texts and vectors of one document.
type entry struct {
	chunks  []string
	vectors []termweight.Vector
}

type snapshot struct {
	Version    int                            `json:"version"`
	Embeddings map[string][]termweight.Vector `json:"embeddings"`
	Chunks     map[string][]string            `json:"chunks"`
	TermModel  termweight.State               `json:"term_model"`
}

type Store struct {
	mu        sync.RWMutex
	model     *termweight.Model
	snapshots indexstore.Store
	records   ChunkRecorder
	scope     Scope
	docs      map[int64]*entry
}

func NewStore(model *termweight.Model, snapshots indexstore.Store, records ChunkRecorder, scope Scope) *Store {
	if model == nil {
		model = termweight.NewModel(termweight.IDFModeBatch)
	}
	return &Store{
		model:     model,
		snapshots: snapshots,
		records:   records,
		scope:     scope,
		docs:      make(map[int64]*entry),
	}
}

// Load replaces the in-memory index with the persisted snapshot. A missing
// or unusable snapshot leaves the index empty; the problem is logged.
func (s *Store) Load(ctx context.Context) {
	logger := logutil.GetLogger(ctx).With(zap.String("location", s.snapshots.Location()))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[int64]*entry)

	data, err := s.snapshots.Load(ctx)
	if err != nil {
		if errors.Is(err, indexstore.ErrNotExist) {
			logger.Info("no index snapshot found, starting with empty index")
			return
		}
		logger.Error("read index snapshot failed, starting with empty index", zap.Error(err))
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Error("decode index snapshot failed, starting with empty index", zap.Error(err))
		return
	}
	if snap.Version != snapshotVersion {
		logger.Warn("index snapshot version mismatch, starting with empty index",
			zap.Int("version", snap.Version), zap.Int("expected", snapshotVersion))
		return
	}
	for key, vectors := range snap.Embeddings {
		docID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.Warn("skip snapshot entry with bad document id", zap.String("key", key))
			continue
		}
		chunks := snap.Chunks[key]
		if len(chunks) != len(vectors) {
			logger.Warn("skip snapshot entry with misaligned chunks",
				zap.Int64("document_id", docID), zap.Int("chunks", len(chunks)), zap.Int("vectors", len(vectors)))
			continue
		}
		s.docs[docID] = &entry{chunks: chunks, vectors: vectors}
	}
	s.model.Restore(snap.TermModel)
	logger.Info("loaded index snapshot", zap.Int("documents", len(s.docs)))
}

// AddDocument encodes the chunks of one document as a single batch, writes
// the chunk records and the snapshot, and publishes the document only after
// both succeeded. Adding an id that is already indexed replaces it.
func (s *Store) AddDocument(ctx context.Context, docID int64, chunks []chunker.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vectors := s.model.Encode(texts)
	prev, replaced := s.docs[docID]

	next := make(map[int64]*entry, len(s.docs)+1)
	for id, e := range s.docs {
		next[id] = e
	}
	next[docID] = &entry{chunks: texts, vectors: vectors}
	if replaced {
		s.model.Forget(prev.chunks)
	}

	err := s.commit(ctx, next, func(tx ChunkTx) error {
		if err := tx.DeleteChunks(ctx, docID); err != nil {
			return fmt.Errorf("delete old chunk records: %w", err)
		}
		if err := tx.InsertChunks(ctx, docID, chunks); err != nil {
			return fmt.Errorf("insert chunk records: %w", err)
		}
		return nil
	})
	if err != nil {
		s.model.Forget(texts)
		if replaced {
			s.model.Encode(prev.chunks)
		}
		s.restoreAfter(ctx, err)
		logutil.GetLogger(ctx).Error("add document to index failed",
			zap.Int64("document_id", docID), zap.Error(err))
		return err
	}
	s.docs = next
	logutil.GetLogger(ctx).Info("added document to index",
		zap.Int64("document_id", docID), zap.Int("chunks", len(chunks)))
	return nil
}

// RemoveDocument drops a document from the records, the snapshot and
// memory. Removing an unknown id succeeds.
func (s *Store) RemoveDocument(ctx context.Context, docID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.docs[docID]
	next := make(map[int64]*entry, len(s.docs))
	for id, e := range s.docs {
		if id != docID {
			next[id] = e
		}
	}
	if ok {
		s.model.Forget(prev.chunks)
	}
	err := s.commit(ctx, next, func(tx ChunkTx) error {
		if err := tx.DeleteChunks(ctx, docID); err != nil {
			return fmt.Errorf("delete chunk records: %w", err)
		}
		return nil
	})
	if err != nil {
		if ok {
			s.model.Encode(prev.chunks)
		}
		s.restoreAfter(ctx, err)
		logutil.GetLogger(ctx).Error("remove document from index failed",
			zap.Int64("document_id", docID), zap.Error(err))
		return err
	}
	s.docs = next
	logutil.GetLogger(ctx).Info("removed document from index", zap.Int64("document_id", docID))
	return nil
}

// Rebuild re-encodes every document with the current term model, one batch
// per document, and rewrites the snapshot. Chunk records are unchanged.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.sortedIDs()
	var all []string
	for _, id := range ids {
		all = append(all, s.docs[id].chunks...)
	}
	s.model.Recount(all)
	next := make(map[int64]*entry, len(s.docs))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunks := s.docs[id].chunks
		next[id] = &entry{chunks: chunks, vectors: s.model.Weigh(chunks)}
	}
	data, err := s.encodeSnapshot(next)
	if err != nil {
		return err
	}
	if err := s.snapshots.Save(ctx, data); err != nil {
		return fmt.Errorf("save index snapshot: %w", err)
	}
	s.docs = next
	logutil.GetLogger(ctx).Info("rebuilt index", zap.Int("documents", len(next)))
	return nil
}

// Search scores every chunk of the documents visible to ownerID against
// the query and returns the best k. Chunks that share no term with the query
// still take part with a score of 0. Ties keep ascending document id and
// chunk order.
func (s *Store) Search(ctx context.Context, query string, ownerID string, k int) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return []Result{}, nil
	}
	visible, err := s.scope.VisibleDocuments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve visible documents: %w", err)
	}
	if len(visible) == 0 {
		return []Result{}, nil
	}
	qv := s.model.EncodeQuery(query)

	results := make([]Result, 0)
	for _, docID := range s.sortedIDs() {
		name, ok := visible[docID]
		if !ok {
			continue
		}
		e := s.docs[docID]
		for i, vec := range e.vectors {
			score := termweight.Similarity(qv, vec)
			results = append(results, Result{
				Content:      e.chunks[i],
				Score:        score,
				DocumentID:   docID,
				DocumentName: name,
				ChunkIndex:   i,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalDocuments: len(s.docs), EmbeddingType: EmbeddingType}
	for _, e := range s.docs {
		st.TotalChunks += len(e.chunks)
	}
	return st
}

// Contains reports whether a document is currently indexed.
func (s *Store) Contains(docID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

// errCommitFailed marks a failure after the new snapshot was already saved.
type errCommitFailed struct {
	err error
}

func (e *errCommitFailed) Error() string { return "commit chunk records: " + e.err.Error() }

func (e *errCommitFailed) Unwrap() error { return e.err }

// commit runs fn in a chunk record transaction and saves the snapshot of
// next before committing. A failed commit is reported as *errCommitFailed;
// the caller undoes its term model changes and then calls restoreAfter.
// Must be called with mu held.
func (s *Store) commit(ctx context.Context, next map[int64]*entry, fn func(tx ChunkTx) error) error {
	data, err := s.encodeSnapshot(next)
	if err != nil {
		return err
	}
	tx, err := s.records.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk record tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.snapshots.Save(ctx, data); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save index snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return &errCommitFailed{err: err}
	}
	return nil
}

// restoreAfter writes the snapshot of the published state back when err
// says a newer one had already been saved.
func (s *Store) restoreAfter(ctx context.Context, err error) {
	var cf *errCommitFailed
	if !errors.As(err, &cf) {
		return
	}
	s.restoreSnapshot(ctx)
}

func (s *Store) restoreSnapshot(ctx context.Context) {
	data, err := s.encodeSnapshot(s.docs)
	if err == nil {
		err = s.snapshots.Save(ctx, data)
	}
	if err != nil {
		logutil.GetLogger(ctx).Error("restore previous index snapshot failed", zap.Error(err))
	}
}

func (s *Store) encodeSnapshot(docs map[int64]*entry) ([]byte, error) {
	snap := snapshot{
		Version:    snapshotVersion,
		Embeddings: make(map[string][]termweight.Vector, len(docs)),
		Chunks:     make(map[string][]string, len(docs)),
		TermModel:  s.model.State(),
	}
	for id, e := range docs {
		key := strconv.FormatInt(id, 10)
		snap.Embeddings[key] = e.vectors
		snap.Chunks[key] = e.chunks
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode index snapshot: %w", err)
	}
	return data, nil
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
