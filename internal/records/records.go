// Package records reads and writes the per-stage newline-delimited JSON
// files that carry URLs between pipeline stages.
package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Writer appends stage records to an NDJSON file, one JSON object per line.
// Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	buf  *bufio.Writer
	path string
}

// NewWriter opens path for appending, creating it when missing.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open records file %s: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriter(f), path: path}, nil
}

// Append writes one record as a single JSON line.
func (w *Writer) Append(rec crawl.StageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Flush pushes buffered lines to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("flush records: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close records file: %w", err)
	}
	return nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string {
	return w.path
}

// ReadAll loads every record from an NDJSON file. Blank lines are skipped; a
// malformed line is a hard error carrying its line number, since a corrupted
// stage input must abort the stage rather than silently drop items.
func ReadAll(path string) ([]crawl.StageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records file %s: %w", path, err)
	}
	defer f.Close()
	return decode(f, path)
}

func decode(r io.Reader, path string) ([]crawl.StageRecord, error) {
	var out []crawl.StageRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec crawl.StageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}
