package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// TypeGzip is the CompressionType part property value for GZIP
const TypeGzip = "application/gzip"

// maxDecompressedSize bounds the size of a decompressed payload
const maxDecompressedSize = 100 << 20

// ErrTooLarge is returned when a decompressed payload exceeds the size limit
var ErrTooLarge = errors.New("decompressed payload too large")

// Compress compresses data using GZIP
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses GZIP data
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	if len(out) > maxDecompressedSize {
		return nil, ErrTooLarge
	}
	return out, nil
}

// IsGzip reports whether data starts with the GZIP magic number
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
