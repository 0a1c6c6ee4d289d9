package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Reader reads Records from a JSONL stream. Blank and malformed lines are
// skipped and counted.
type Reader struct {
	r       *bufio.Reader
	line    int
	limit   int
	read    int
	skipped []LineError
}

// LineError describes a skipped line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// NewReader returns a Reader. A positive limit caps the number of records
// returned.
func NewReader(r io.Reader, limit int) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<20), limit: limit}
}

// Next returns the next record or io.EOF.
func (d *Reader) Next() (Record, error) {
	for {
		if d.limit > 0 && d.read >= d.limit {
			return Record{}, io.EOF
		}
		raw, err := d.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("reading line %d: %w", d.line+1, err)
		}
		d.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if uerr := json.Unmarshal(raw, &rec); uerr != nil {
			d.skipped = append(d.skipped, LineError{Line: d.line, Err: uerr})
			continue
		}
		rec.Line = d.line
		d.read++
		return rec, nil
	}
}

// Skipped returns the malformed lines seen so far.
func (d *Reader) Skipped() []LineError {
	out := make([]LineError, len(d.skipped))
	copy(out, d.skipped)
	return out
}

// Writer writes one JSON document per line. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     *bufio.Writer
	enc   *json.Encoder
	count int
}

// NewWriter returns a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{w: bw, enc: enc}
}

// Write encodes v as one line.
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("encoding line %d: %w", w.count+1, err)
	}
	w.count++
	return nil
}

// Count returns the number of lines written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush flushes buffered lines.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}
