// Package extract turns uploaded files into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
	TypeTXT  = "txt"
	TypeMD   = "md"

	TypeUnknown = "unknown"
)

var (
	ErrExtraction      = errors.New("text extraction failed")
	ErrUnsupportedType = errors.New("unsupported file type")
)

var (
	allowedTypes     = []string{TypePDF, TypeDOCX, TypeTXT, TypeMD}
	extractableTypes = []string{TypeTXT, TypeMD}
)

// AllowedTypes lists the extensions accepted for upload.
func AllowedTypes() []string {
	out := make([]string, len(allowedTypes))
	copy(out, allowedTypes)
	return out
}

// FileType returns the lower-cased extension of name when it is an accepted
// type and TypeUnknown otherwise.
func FileType(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, t := range allowedTypes {
		if ext == t {
			return t
		}
	}
	return TypeUnknown
}

func Allowed(name string) bool {
	return FileType(name) != TypeUnknown
}

// ExtractableTypes lists the types that have a text extractor.
func ExtractableTypes() []string {
	out := make([]string, len(extractableTypes))
	copy(out, extractableTypes)
	return out
}

type Extractor struct {
	md goldmark.Markdown
}

func New() *Extractor {
	return &Extractor{md: goldmark.New()}
}

// Extract reads the file at path and decodes it according to fileType.
func (e *Extractor) Extract(ctx context.Context, path string, fileType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtraction, filepath.Base(path), err)
	}
	return e.ExtractBytes(ctx, data, fileType)
}

func (e *Extractor) ExtractReader(ctx context.Context, r io.Reader, fileType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrExtraction, err)
	}
	return e.ExtractBytes(ctx, data, fileType)
}

func (e *Extractor) ExtractBytes(ctx context.Context, data []byte, fileType string) (string, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("file_type", fileType), zap.Int("size", len(data)))
	var out string
	switch strings.ToLower(fileType) {
	case TypeTXT:
		out = decodeText(data)
	case TypeMD:
		out = e.markdownText(decodeText(data))
	case TypePDF, TypeDOCX:
		logger.Warn("file type has no text extractor")
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
	if strings.TrimSpace(out) == "" {
		logger.Warn("no text found in file")
		return "", fmt.Errorf("%w: no text content", ErrExtraction)
	}
	return out, nil
}

// decodeText treats data as UTF-8 and falls back to Latin-1 when it is not.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}

func (e *Extractor) markdownText(src string) string {
	source := []byte(src)
	doc := e.md.Parser().Parse(text.NewReader(source))
	var sb strings.Builder
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := node.(type) {
		case *ast.Text:
			if !entering {
				return ast.WalkContinue, nil
			}
			sb.Write(n.Segment.Value(source))
			if n.HardLineBreak() {
				sb.WriteString("\n")
			} else if n.SoftLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.String:
			if entering {
				sb.Write(n.Value)
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(n.Label(source))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if !entering {
				return ast.WalkContinue, nil
			}
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(source))
			}
			sb.WriteString("\n")
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				sb.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	return collapseBlankLines(sb.String())
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
