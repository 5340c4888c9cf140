package codec

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Encoder writes records as delimited text rows. The header row is emitted
// before the first data row, derived from the first record's field order
// unless fixed with WithHeader. Fields a later record does not carry encode
// as empty; explicitly null fields encode as the sentinel token.
type Encoder struct {
	w        *csv.Writer
	sentinel string
	header   []string
	started  bool
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	o := applyOptions(opts)
	return &Encoder{
		w:        csv.NewWriter(w),
		sentinel: o.sentinel,
		header:   o.header,
	}
}

// Write encodes one record. The first call fixes the header.
func (e *Encoder) Write(rec *Record) error {
	if !e.started {
		if len(e.header) == 0 {
			e.header = rec.Fields()
		}
		if len(e.header) == 0 {
			return fmt.Errorf("codec: cannot derive header from empty record")
		}
		if err := e.w.Write(e.header); err != nil {
			return fmt.Errorf("codec: write header: %w", err)
		}
		e.started = true
	}

	row := make([]string, len(e.header))
	for i, name := range e.header {
		switch {
		case rec.IsNull(name):
			row[i] = e.sentinel
		case rec.Has(name):
			row[i], _ = rec.Get(name)
		default:
			row[i] = ""
		}
	}
	if err := e.w.Write(row); err != nil {
		return fmt.Errorf("codec: write row: %w", err)
	}
	return nil
}

// Flush writes any buffered rows to the underlying writer.
func (e *Encoder) Flush() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return fmt.Errorf("codec: flush: %w", err)
	}
	return nil
}

// Header returns the header in use, or nil before the first Write when no
// header was configured.
func (e *Encoder) Header() []string {
	if len(e.header) == 0 {
		return nil
	}
	out := make([]string, len(e.header))
	copy(out, e.header)
	return out
}
