package model

type DocumentChunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Ctime      int64  `json:"ctime"`
}
