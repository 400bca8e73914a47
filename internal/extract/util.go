package extract

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the largest upload accepted by default.
const MaxFileSize = 16 * 1024 * 1024

type Info struct {
	WordCount int `json:"word_count"`
	CharCount int `json:"char_count"`
}

func Describe(text string) Info {
	return Info{
		WordCount: len(strings.Fields(text)),
		CharCount: utf8.RuneCountInString(text),
	}
}

// CleanText collapses whitespace and drops NUL and replacement characters.
func CleanText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\ufffd", "")
	return strings.TrimSpace(text)
}

func FormatFileSize(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	v := float64(size)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SafeFilename reduces name to an ASCII file name that cannot escape a
// directory.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

func Truncate(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
