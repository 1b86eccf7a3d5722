package as4

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileRawResponseWriter stores each raw AS4 response under
// <Dir>/<yyyy>/<mm>/<dd>/<messageID>-response.xml
type FileRawResponseWriter struct {
	Dir string
	now func() time.Time
}

// NewFileRawResponseWriter creates a writer rooted at dir
func NewFileRawResponseWriter(dir string) *FileRawResponseWriter {
	return &FileRawResponseWriter{Dir: dir, now: time.Now}
}

// HandleResponse implements RawResponseConsumer
func (w *FileRawResponseWriter) HandleResponse(messageID string, data []byte) error {
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	t := now().UTC()
	dir := filepath.Join(w.Dir, t.Format("2006"), t.Format("01"), t.Format("02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating response directory: %w", err)
	}
	path := filepath.Join(dir, safeFileName(messageID)+"-response.xml")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

func safeFileName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@':
			return r
		}
		return '_'
	}, s)
}
