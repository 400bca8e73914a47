package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/config"
	"github.com/xxxsen/askscribe/internal/db"
	"github.com/xxxsen/askscribe/internal/extract"
	"github.com/xxxsen/askscribe/internal/filestore"
	"github.com/xxxsen/askscribe/internal/indexstore"
	appErr "github.com/xxxsen/askscribe/internal/pkg/errors"
	"github.com/xxxsen/askscribe/internal/repo"
	"github.com/xxxsen/askscribe/internal/retrieval"
)

type fakeSummarizer struct {
	summary  string
	keywords []string
	err      error
	lastText string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	f.lastText = text
	return f.summary, f.err
}

func (f *fakeSummarizer) ExtractKeywords(ctx context.Context, text string, maxKeywords int) ([]string, error) {
	return f.keywords, nil
}

type failingIndex struct {
	DocumentIndex
	err error
}

func (f *failingIndex) AddDocument(ctx context.Context, docID int64, chunks []chunker.Chunk) error {
	return f.err
}

type recordingIndex struct {
	DocumentIndex
	removed []int64
}

func (r *recordingIndex) RemoveDocument(ctx context.Context, docID int64) error {
	r.removed = append(r.removed, docID)
	return r.DocumentIndex.RemoveDocument(ctx, docID)
}

type fixture struct {
	svc    *DocumentService
	store  *retrieval.Store
	docs   *repo.DocumentRepo
	files  filestore.Store
	conn   *sql.DB
	upload string
}

func newFixture(t *testing.T, summarizer Summarizer) *fixture {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "askscribe.db")})
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(conn, "sqlite"))
	t.Cleanup(func() { conn.Close() })

	docs := repo.NewDocumentRepo(conn, "sqlite")
	chunks := repo.NewChunkRepo(conn, "sqlite")
	snapshots, err := indexstore.NewLocal(filepath.Join(dir, "index.json"))
	require.NoError(t, err)
	store := retrieval.NewStore(nil, snapshots, chunks, docs)
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": filepath.Join(dir, "files")}})
	require.NoError(t, err)

	svc := NewDocumentService(docs, chunks, files, store, extract.New(), chunker.New(), summarizer, DocumentServiceConfig{MaxUploadSize: 4096})
	upload := filepath.Join(dir, "incoming")
	require.NoError(t, os.MkdirAll(upload, 0o755))
	return &fixture{svc: svc, store: store, docs: docs, files: files, conn: conn, upload: upload}
}

func (f *fixture) write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(f.upload, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const applesText = "Apples are a sweet fruit that grows on trees in orchards. Many varieties of apples exist around the world."
const rocketsText = "Rockets use powerful engines to leave the atmosphere. Rocket engines burn fuel with an oxidizer to make thrust."

func TestIngestAndSearchIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	apples, err := f.svc.Ingest(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.NoError(t, err)
	require.True(t, apples.Processed)
	require.Equal(t, 1, apples.ChunkCount)
	require.Equal(t, "apples.txt", apples.OriginalFilename)
	require.Equal(t, extract.TypeTXT, apples.FileType)
	require.Equal(t, 19, apples.WordCount)

	_, err = f.svc.Ingest(ctx, "bob", f.write(t, "rockets.md", "# Rockets\n\n"+rocketsText), "")
	require.NoError(t, err)

	results, err := f.store.Search(ctx, "fruit", "alice", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "apples.txt", results[0].DocumentName)

	results, err = f.store.Search(ctx, "fruit", "bob", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "rockets.md", results[0].DocumentName)
	require.Zero(t, results[0].Score)

	stored, err := f.docs.Get(ctx, apples.ID)
	require.NoError(t, err)
	require.True(t, stored.Processed)
	require.Equal(t, applesText, stored.TextContent)

	chunks, err := f.svc.Chunks(ctx, "alice", apples.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	_, err = f.svc.Chunks(ctx, "bob", apples.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	list, err := f.svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.Upload(ctx, "alice", f.write(t, "image.png", "png"), "")
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = f.svc.Upload(ctx, "alice", f.write(t, "big.txt", strings.Repeat("a", 5000)), "")
	require.ErrorIs(t, err, appErr.ErrTooLarge)

	_, err = f.svc.Upload(ctx, "", f.write(t, "a.txt", "x"), "")
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = f.svc.Upload(ctx, "alice", filepath.Join(f.upload, "missing.txt"), "")
	require.Error(t, err)

	doc, err := f.svc.Upload(ctx, "alice", f.write(t, "tmp123", applesText), "../My Notes.txt")
	require.NoError(t, err)
	require.False(t, doc.Processed)
	require.Equal(t, "../My Notes.txt", doc.OriginalFilename)
	require.True(t, strings.HasSuffix(doc.FilePath, "_My_Notes.txt"))
	require.NotContains(t, doc.FilePath, "/")
}

func TestIngestFailureKeepsDocumentUnprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	doc, err := f.svc.Ingest(ctx, "alice", f.write(t, "report.pdf", "%PDF-1.4"), "")
	require.ErrorIs(t, err, extract.ErrUnsupportedType)
	require.NotNil(t, doc)
	stored, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, stored.Processed)
	require.NotEmpty(t, stored.LastError)
	require.False(t, f.store.Contains(doc.ID))

	doc, err = f.svc.Ingest(ctx, "alice", f.write(t, "blank.txt", "  \n "), "")
	require.ErrorIs(t, err, extract.ErrExtraction)
	require.False(t, doc.Processed)
}

func TestIngestIndexFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.svc.index = &failingIndex{err: errors.New("disk full")}

	doc, err := f.svc.Ingest(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.Error(t, err)
	stored, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, stored.Processed)
	require.Contains(t, stored.LastError, "disk full")
}

func TestIngestUnindexesWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	idx := &recordingIndex{DocumentIndex: f.store}
	f.svc.index = idx
	_, err := f.conn.Exec(`CREATE TRIGGER block_processed BEFORE UPDATE OF processed ON documents
		WHEN NEW.processed = 1 BEGIN SELECT RAISE(ABORT, 'documents locked'); END`)
	require.NoError(t, err)

	doc, err := f.svc.Ingest(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.Error(t, err)
	require.Equal(t, []int64{doc.ID}, idx.removed)
	require.False(t, f.store.Contains(doc.ID))

	stored, err := f.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.False(t, stored.Processed)
	require.Contains(t, stored.LastError, "documents locked")

	results, err := f.store.Search(ctx, "apples", "alice", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestProcessPendingAndReprocess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.svc.Upload(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, "alice", f.write(t, "report.docx", "PK"), "")
	require.NoError(t, err)
	broken, err := f.svc.Upload(ctx, "alice", f.write(t, "rockets.txt", rocketsText), "")
	require.NoError(t, err)
	require.NoError(t, f.files.Delete(ctx, broken.FilePath))

	done, err := f.svc.ProcessPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.True(t, f.store.Contains(first.ID))
	require.False(t, f.store.Contains(broken.ID))

	// failed documents are not picked up again automatically
	done, err = f.svc.ProcessPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, done)

	rc, err := os.Open(f.write(t, "rockets2.txt", rocketsText))
	require.NoError(t, err)
	require.NoError(t, f.files.Save(ctx, broken.FilePath, rc, -1))
	rc.Close()
	doc, err := f.svc.Reprocess(ctx, "alice", broken.ID)
	require.NoError(t, err)
	require.True(t, doc.Processed)
	require.Empty(t, doc.LastError)
	require.True(t, f.store.Contains(broken.ID))

	_, err = f.svc.Reprocess(ctx, "bob", broken.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	doc, err := f.svc.Ingest(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(ctx, "bob", doc.ID), appErr.ErrNotFound)
	require.True(t, f.store.Contains(doc.ID))

	require.NoError(t, f.svc.Delete(ctx, "alice", doc.ID))
	require.False(t, f.store.Contains(doc.ID))
	_, err = f.docs.Get(ctx, doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = f.files.Open(ctx, doc.FilePath)
	require.ErrorIs(t, err, filestore.ErrNotExist)
	require.ErrorIs(t, f.svc.Delete(ctx, "alice", doc.ID), appErr.ErrNotFound)

	results, err := f.store.Search(ctx, "apples", "alice", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	summarizer := &fakeSummarizer{summary: "- apples", keywords: []string{"apples", "fruit"}}
	f := newFixture(t, summarizer)
	doc, err := f.svc.Ingest(ctx, "alice", f.write(t, "apples.txt", applesText), "")
	require.NoError(t, err)

	out, err := f.svc.Summarize(ctx, "alice", doc.ID, 100)
	require.NoError(t, err)
	require.Equal(t, "- apples", out.Summary)
	require.Equal(t, []string{"apples", "fruit"}, out.Keywords)
	require.Equal(t, "apples.txt", out.Name)
	require.Equal(t, applesText, summarizer.lastText)

	pending, err := f.svc.Upload(ctx, "alice", f.write(t, "later.txt", applesText), "")
	require.NoError(t, err)
	_, err = f.svc.Summarize(ctx, "alice", pending.ID, 100)
	require.ErrorIs(t, err, appErr.ErrInvalid)

	summarizer.err = errors.New("quota")
	_, err = f.svc.Summarize(ctx, "alice", doc.ID, 100)
	require.Error(t, err)

	_, err = newFixture(t, nil).svc.Summarize(ctx, "alice", doc.ID, 100)
	require.ErrorIs(t, err, appErr.ErrUnavailable)
}
