package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/askscribe/internal/chunker"
	"github.com/xxxsen/askscribe/internal/model"
	"github.com/xxxsen/askscribe/internal/pkg/dbutil"
	"github.com/xxxsen/askscribe/internal/pkg/timeutil"
	"github.com/xxxsen/askscribe/internal/retrieval"
)

const chunkInsertBatch = 500

type ChunkRepo struct {
	db     *sql.DB
	driver string
}

func NewChunkRepo(db *sql.DB, driver string) *ChunkRepo {
	return &ChunkRepo{db: db, driver: driver}
}

func (r *ChunkRepo) Begin(ctx context.Context) (retrieval.ChunkTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &chunkTx{tx: tx, driver: r.driver}, nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID int64) ([]*model.DocumentChunk, error) {
	where := map[string]interface{}{
		"document_id": docID,
		"_orderby":    "chunk_index asc",
	}
	sqlStr, args, err := builder.BuildSelect("document_chunks", where,
		[]string{"id", "document_id", "chunk_index", "content", "start_char", "end_char", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.StartChar, &c.EndChar, &c.Ctime); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

type chunkTx struct {
	tx     *sql.Tx
	driver string
}

func (t *chunkTx) InsertChunks(ctx context.Context, docID int64, chunks []chunker.Chunk) error {
	now := timeutil.NowUnix()
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		data := make([]map[string]interface{}, 0, end-start)
		for _, c := range chunks[start:end] {
			data = append(data, map[string]interface{}{
				"document_id": docID,
				"chunk_index": c.Index,
				"content":     c.Text,
				"start_char":  c.Start,
				"end_char":    c.End,
				"ctime":       now,
			})
		}
		sqlStr, args, err := builder.BuildInsert("document_chunks", data)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(t.driver, sqlStr, args)
		if _, err := t.tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func (t *chunkTx) DeleteChunks(ctx context.Context, docID int64) error {
	sqlStr, args, err := builder.BuildDelete("document_chunks", map[string]interface{}{"document_id": docID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(t.driver, sqlStr, args)
	_, err = t.tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func (t *chunkTx) Commit() error {
	return t.tx.Commit()
}

func (t *chunkTx) Rollback() error {
	return t.tx.Rollback()
}
