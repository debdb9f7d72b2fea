// Package fswriter implements the sparse, random-access output sink
// of spec.md §4.5: a file pre-sized to the torrent's total length,
// written piece-by-piece at their final byte offsets.
package fswriter

import (
	"fmt"
	"os"
	"path/filepath"
)

// Writer is a positional sink for verified piece bytes.
type Writer struct {
	f *os.File
}

// Open creates (or truncates) outputDir/name to exactly totalLength
// bytes, per spec.md §4.5 and §6.
func Open(outputDir, name string, totalLength int64) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("fswriter: creating output dir %s: %w", outputDir, err)
	}
	path := filepath.Join(outputDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fswriter: creating %s: %w", path, err)
	}
	if err := f.Truncate(totalLength); err != nil {
		f.Close()
		return nil, fmt.Errorf("fswriter: sizing %s to %d bytes: %w", path, totalLength, err)
	}
	return &Writer{f: f}, nil
}

// WriteAt writes data at offset. Errors are wrapped with the offset,
// per spec.md §7's "diagnostic containing the offset" requirement.
func (w *Writer) WriteAt(offset int64, data []byte) error {
	if _, err := w.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("fswriter: write at offset %d: %w", offset, err)
	}
	return nil
}

// Close fsyncs the file once (not per piece, per spec.md §4.5) and
// closes it.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("fswriter: fsync: %w", err)
	}
	return w.f.Close()
}

// Path returns the on-disk path being written, for diagnostics.
func (w *Writer) Path() string {
	return w.f.Name()
}
