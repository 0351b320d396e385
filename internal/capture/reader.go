package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Session   string
	Direction *Direction
	// Since keeps records at or after the time; Until keeps records before it.
	Since *time.Time
	Until *time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Session != "" && r.Session != f.Session {
		return false
	}
	if f.Direction != nil && r.Direction != *f.Direction {
		return false
	}
	if f.Since != nil && r.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !r.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}

// Reader streams records from a capture.
type Reader struct {
	src     io.Reader
	decoder *cbor.Decoder
	filter  Filter
}

func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{src: r, decoder: decMode.NewDecoder(r), filter: filter}
}

// Open reads the capture file at path.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	return NewReader(f, filter), nil
}

// Next returns the next matching record or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("capture: decode record: %w", err)
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Each calls fn for every matching record until EOF or fn fails.
func (r *Reader) Each(fn func(Record) error) error {
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
