package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("capture: writer closed")

// Writer appends records to a CBOR stream. It is safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	closer   io.Closer
	encoder  *cbor.Encoder
	session  string
	maxBytes int
	count    int
	closed   bool
}

// Options tunes a Writer. MaxFrameBytes truncates stored data when positive.
type Options struct {
	Session       string
	MaxFrameBytes int
}

// NewWriter writes records to w. An empty session gets a generated id.
func NewWriter(w io.Writer, opts Options) *Writer {
	if opts.Session == "" {
		opts.Session = NewSessionID()
	}
	cw := &Writer{
		encoder:  encMode.NewEncoder(w),
		session:  opts.Session,
		maxBytes: opts.MaxFrameBytes,
	}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Create opens path for append and returns a Writer over it.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	w := NewWriter(f, opts)
	log.Debug().Str("path", path).Str("session", w.session).Msg("capture opened")
	return w, nil
}

func (w *Writer) Session() string { return w.session }

// Record stores one frame. Data is copied.
func (w *Writer) Record(dir Direction, t Transport, data []byte, label string) error {
	rec := Record{
		Timestamp: time.Now(),
		Session:   w.session,
		Direction: dir,
		Transport: t,
		Size:      len(data),
		Label:     label,
	}
	if w.maxBytes > 0 && len(data) > w.maxBytes {
		data = data[:w.maxBytes]
		rec.Truncated = true
	}
	rec.Data = append([]byte(nil), data...)
	return w.Write(rec)
}

func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("capture: encode record: %w", err)
	}
	w.count++
	return nil
}

// Count reports how many records were written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying stream when it is closable. Safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
