package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// EnsureCompressed returns data gzip-compressed. Data that already
// decompresses cleanly is stored as-is so re-inserting a stored file never
// double-compresses it.
func EnsureCompressed(data []byte) ([]byte, error) {
	if _, err := Decompress(data); err == nil {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress file: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress gunzips stored file bytes.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress file: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress file: %w", err)
	}
	return out, nil
}
