package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/extract"
	"github.com/xxxsen/askscribe/internal/filestore"
	"github.com/xxxsen/askscribe/internal/model"
	appErr "github.com/xxxsen/askscribe/internal/pkg/errors"
	"github.com/xxxsen/askscribe/internal/pkg/timeutil"
	"github.com/xxxsen/askscribe/internal/repo"
)

const lastErrorMaxLen = 500

// DocumentIndex is the retrieval side of a document: its chunks become
// searchable after AddDocument and disappear after RemoveDocument.
type DocumentIndex interface {
	AddDocument(ctx context.Context, docID int64, chunks []chunker.Chunk) error
	RemoveDocument(ctx context.Context, docID int64) error
}

type Summarizer interface {
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
	ExtractKeywords(ctx context.Context, text string, maxKeywords int) ([]string, error)
}

type DocumentServiceConfig struct {
	MaxUploadSize int64
}

type DocumentService struct {
	docs       *repo.DocumentRepo
	chunks     *repo.ChunkRepo
	files      filestore.Store
	index      DocumentIndex
	extractor  *extract.Extractor
	splitter   *chunker.Splitter
	summarizer Summarizer
	cfg        DocumentServiceConfig
}

func NewDocumentService(docs *repo.DocumentRepo, chunks *repo.ChunkRepo, files filestore.Store, index DocumentIndex,
	extractor *extract.Extractor, splitter *chunker.Splitter, summarizer Summarizer, cfg DocumentServiceConfig) *DocumentService {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = extract.MaxFileSize
	}
	return &DocumentService{
		docs:       docs,
		chunks:     chunks,
		files:      files,
		index:      index,
		extractor:  extractor,
		splitter:   splitter,
		summarizer: summarizer,
		cfg:        cfg,
	}
}

type DocumentSummary struct {
	DocumentID int64    `json:"document_id"`
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
}

// Upload validates the file at path, copies it into the file store and
// records an unprocessed document. originalName defaults to the base name
// of path.
func (s *DocumentService) Upload(ctx context.Context, userID string, path string, originalName string) (*model.Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	if originalName == "" {
		originalName = filepath.Base(path)
	}
	fileType := extract.FileType(originalName)
	if fileType == extract.TypeUnknown {
		return nil, fmt.Errorf("%w: file type not allowed: %s, supported types: %s",
			appErr.ErrInvalid, originalName, strings.Join(extract.AllowedTypes(), ", "))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", appErr.ErrInvalid, path)
	}
	if info.Size() > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: maximum size %s", appErr.ErrTooLarge, extract.FormatFileSize(s.cfg.MaxUploadSize))
	}

	safe := extract.SafeFilename(originalName)
	if safe == "" {
		safe = "upload." + fileType
	}
	key := fmt.Sprintf("%s_%s_%s", extract.SafeFilename(userID), newID(), safe)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()
	if err := s.files.Save(ctx, key, file, info.Size()); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := timeutil.NowUnix()
	doc := &model.Document{
		UserID:           userID,
		Filename:         key,
		OriginalFilename: originalName,
		FilePath:         key,
		FileType:         fileType,
		FileSize:         info.Size(),
		UploadTime:       now,
		Mtime:            now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			logutil.GetLogger(ctx).Warn("remove orphan upload failed", zap.String("key", key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	logutil.GetLogger(ctx).Info("document uploaded",
		zap.Int64("document_id", doc.ID),
		zap.String("user_id", userID),
		zap.String("file_type", fileType),
		zap.Int64("size", doc.FileSize),
	)
	return doc, nil
}

// Ingest uploads the file and indexes it right away. When indexing fails
// the document is kept, unprocessed, with the failure recorded, and the
// error is returned together with it.
func (s *DocumentService) Ingest(ctx context.Context, userID string, path string, originalName string) (*model.Document, error) {
	doc, err := s.Upload(ctx, userID, path, originalName)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Process extracts, chunks and indexes a stored document and marks it
// processed.
func (s *DocumentService) Process(ctx context.Context, doc *model.Document) error {
	logger := logutil.GetLogger(ctx).With(zap.Int64("document_id", doc.ID))
	if err := s.process(ctx, doc); err != nil {
		logger.Error("process document failed", zap.Error(err))
		reason := extract.Truncate(err.Error(), lastErrorMaxLen)
		if markErr := s.docs.MarkFailed(ctx, doc.ID, reason, timeutil.NowUnix()); markErr != nil {
			logger.Error("record document failure failed", zap.Error(markErr))
		}
		doc.Processed = false
		doc.LastError = reason
		return err
	}
	logger.Info("document processed",
		zap.Int("chunks", doc.ChunkCount),
		zap.Int("words", doc.WordCount),
	)
	return nil
}

func (s *DocumentService) process(ctx context.Context, doc *model.Document) error {
	rc, err := s.files.Open(ctx, doc.FilePath)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	text, err := s.extractor.ExtractReader(ctx, rc, doc.FileType)
	rc.Close()
	if err != nil {
		return err
	}
	text = chunker.Normalize(text)
	chunks := s.splitter.SplitChunks(text)
	if err := s.index.AddDocument(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("index document: %w", err)
	}

	info := extract.Describe(text)
	doc.TextContent = text
	doc.ChunkCount = len(chunks)
	doc.WordCount = info.WordCount
	doc.CharCount = info.CharCount
	doc.Mtime = timeutil.NowUnix()
	if err := s.docs.MarkProcessed(ctx, doc); err != nil {
		if rmErr := s.index.RemoveDocument(ctx, doc.ID); rmErr != nil {
			logutil.GetLogger(ctx).Error("drop chunks of unrecorded document failed",
				zap.Int64("document_id", doc.ID), zap.Error(rmErr))
		}
		return fmt.Errorf("mark document processed: %w", err)
	}
	doc.Processed = true
	doc.LastError = ""
	return nil
}

// Reprocess runs indexing again for one of the user's documents, whatever
// its current state.
func (s *DocumentService) Reprocess(ctx context.Context, userID string, docID int64) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// ProcessPending indexes up to limit documents that were uploaded but never
// processed, oldest first, and returns how many succeeded.
func (s *DocumentService) ProcessPending(ctx context.Context, limit int) (int, error) {
	docs, err := s.docs.ListUnprocessed(ctx, extract.ExtractableTypes(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := s.Process(ctx, doc); err != nil {
			continue
		}
		done++
	}
	return done, nil
}

func (s *DocumentService) Get(ctx context.Context, userID string, docID int64) (*model.Document, error) {
	return s.docs.GetByID(ctx, userID, docID)
}

func (s *DocumentService) List(ctx context.Context, userID string) ([]*model.Document, error) {
	return s.docs.ListByUser(ctx, userID)
}

func (s *DocumentService) Chunks(ctx context.Context, userID string, docID int64) ([]*model.DocumentChunk, error) {
	if _, err := s.docs.GetByID(ctx, userID, docID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, docID)
}

// Delete removes the document from the index, the database and the file
// store. Only the owner may delete a document.
func (s *DocumentService) Delete(ctx context.Context, userID string, docID int64) error {
	logger := logutil.GetLogger(ctx).With(zap.Int64("document_id", docID), zap.String("user_id", userID))
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return err
	}
	if err := s.index.RemoveDocument(ctx, docID); err != nil {
		return fmt.Errorf("remove from index: %w", err)
	}
	if err := s.docs.Delete(ctx, userID, docID); err != nil {
		return err
	}
	if err := s.files.Delete(ctx, doc.FilePath); err != nil && !errors.Is(err, filestore.ErrNotExist) {
		logger.Warn("delete stored file failed", zap.String("key", doc.FilePath), zap.Error(err))
	}
	logger.Info("document deleted")
	return nil
}

// Summarize asks the AI backend for a summary and keywords of a processed
// document.
func (s *DocumentService) Summarize(ctx context.Context, userID string, docID int64, maxWords int) (*DocumentSummary, error) {
	if s.summarizer == nil {
		return nil, appErr.ErrUnavailable
	}
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if !doc.Processed || strings.TrimSpace(doc.TextContent) == "" {
		return nil, fmt.Errorf("%w: document has not been processed", appErr.ErrInvalid)
	}
	summary, err := s.summarizer.Summarize(ctx, doc.TextContent, maxWords)
	if err != nil {
		return nil, fmt.Errorf("summarize document: %w", err)
	}
	keywords, err := s.summarizer.ExtractKeywords(ctx, doc.TextContent, 0)
	if err != nil {
		logutil.GetLogger(ctx).Warn("extract keywords failed", zap.Int64("document_id", docID), zap.Error(err))
		keywords = []string{}
	}
	return &DocumentSummary{
		DocumentID: doc.ID,
		Name:       doc.DisplayName(),
		Summary:    summary,
		Keywords:   keywords,
	}, nil
}
