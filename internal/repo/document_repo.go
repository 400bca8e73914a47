package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/askscribe/internal/model"
	"github.com/xxxsen/askscribe/internal/pkg/dbutil"
	appErr "github.com/xxxsen/askscribe/internal/pkg/errors"
)

var documentColumns = []string{
	"id", "user_id", "filename", "original_filename", "file_path", "file_type", "file_size",
	"upload_time", "processed", "text_content", "chunk_count", "word_count", "char_count",
	"last_error", "mtime",
}

type DocumentRepo struct {
	db     *sql.DB
	driver string
}

func NewDocumentRepo(db *sql.DB, driver string) *DocumentRepo {
	return &DocumentRepo{db: db, driver: driver}
}

// Create inserts doc and fills in its generated id.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"user_id":           doc.UserID,
		"filename":          doc.Filename,
		"original_filename": doc.OriginalFilename,
		"file_path":         doc.FilePath,
		"file_type":         doc.FileType,
		"file_size":         doc.FileSize,
		"upload_time":       doc.UploadTime,
		"processed":         boolToInt(doc.Processed),
		"text_content":      doc.TextContent,
		"chunk_count":       doc.ChunkCount,
		"word_count":        doc.WordCount,
		"char_count":        doc.CharCount,
		"last_error":        doc.LastError,
		"mtime":             doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr+" RETURNING id", args)
	return r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&doc.ID)
}

func (r *DocumentRepo) GetByID(ctx context.Context, userID string, docID int64) (*model.Document, error) {
	where := map[string]interface{}{
		"id":      docID,
		"user_id": userID,
	}
	return r.getOne(ctx, where)
}

// Get loads a document regardless of its owner. Used by background work.
func (r *DocumentRepo) Get(ctx context.Context, docID int64) (*model.Document, error) {
	return r.getOne(ctx, map[string]interface{}{"id": docID})
}

func (r *DocumentRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Document, error) {
	docs, err := r.list(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return docs[0], nil
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID string) ([]*model.Document, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "upload_time desc, id desc",
	}
	return r.list(ctx, where)
}

// ListUnprocessed returns the oldest documents of the given types that were
// never processed. Documents with a recorded failure are left out; they are
// retried explicitly.
func (r *DocumentRepo) ListUnprocessed(ctx context.Context, fileTypes []string, limit int) ([]*model.Document, error) {
	if len(fileTypes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	where := map[string]interface{}{
		"processed":    0,
		"last_error":   "",
		"file_type in": fileTypes,
		"_orderby":     "id asc",
		"_limit":       []uint{0, uint(limit)},
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) list(ctx context.Context, where map[string]interface{}) ([]*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		var doc model.Document
		var processed int
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.OriginalFilename, &doc.FilePath,
			&doc.FileType, &doc.FileSize, &doc.UploadTime, &processed, &doc.TextContent, &doc.ChunkCount,
			&doc.WordCount, &doc.CharCount, &doc.LastError, &doc.Mtime); err != nil {
			return nil, err
		}
		doc.Processed = processed != 0
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// MarkProcessed stores the extraction results of doc and flags it as
// indexed.
func (r *DocumentRepo) MarkProcessed(ctx context.Context, doc *model.Document) error {
	where := map[string]interface{}{
		"id": doc.ID,
	}
	update := map[string]interface{}{
		"processed":    1,
		"text_content": doc.TextContent,
		"chunk_count":  doc.ChunkCount,
		"word_count":   doc.WordCount,
		"char_count":   doc.CharCount,
		"last_error":   "",
		"mtime":        doc.Mtime,
	}
	return r.update(ctx, where, update)
}

// MarkFailed records why indexing failed; the document stays unprocessed.
func (r *DocumentRepo) MarkFailed(ctx context.Context, docID int64, reason string, mtime int64) error {
	where := map[string]interface{}{
		"id": docID,
	}
	update := map[string]interface{}{
		"processed":  0,
		"last_error": reason,
		"mtime":      mtime,
	}
	return r.update(ctx, where, update)
}

func (r *DocumentRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, userID string, docID int64) error {
	where := map[string]interface{}{
		"id":      docID,
		"user_id": userID,
	}
	sqlStr, args, err := builder.BuildDelete("documents", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// VisibleDocuments returns the ids and display names of every document
// owned by ownerID.
func (r *DocumentRepo) VisibleDocuments(ctx context.Context, ownerID string) (map[int64]string, error) {
	out := make(map[int64]string)
	if ownerID == "" {
		return out, nil
	}
	where := map[string]interface{}{
		"user_id": ownerID,
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, []string{"id", "filename", "original_filename"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		doc := model.Document{}
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.OriginalFilename); err != nil {
			return nil, err
		}
		out[doc.ID] = doc.DisplayName()
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
