package model

type Document struct {
	ID               int64  `json:"id"`
	UserID           string `json:"user_id"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`
	UploadTime       int64  `json:"upload_time"`
	Processed        bool   `json:"processed"`
	TextContent      string `json:"text_content,omitempty"`
	ChunkCount       int    `json:"chunk_count"`
	WordCount        int    `json:"word_count"`
	CharCount        int    `json:"char_count"`
	LastError        string `json:"last_error,omitempty"`
	Mtime            int64  `json:"mtime"`
}

// DisplayName is the name shown next to search results.
func (d *Document) DisplayName() string {
	if d.OriginalFilename != "" {
		return d.OriginalFilename
	}
	return d.Filename
}
