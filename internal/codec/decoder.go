package codec

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Decoder reads delimited text and yields one record per row. The first row
// is consumed as the header unless one was fixed with WithHeader. Cells equal
// to the sentinel token decode as explicitly null fields. A Decoder reads its
// stream once; create a new Decoder to read another stream.
type Decoder struct {
	r        *csv.Reader
	sentinel string
	header   []string
	started  bool
	err      error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	o := applyOptions(opts)
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	return &Decoder{
		r:        cr,
		sentinel: o.sentinel,
		header:   o.header,
	}
}

// Header returns the field names, reading the header row first if needed.
func (d *Decoder) Header() ([]string, error) {
	if err := d.start(); err != nil {
		return nil, err
	}
	out := make([]string, len(d.header))
	copy(out, d.header)
	return out, nil
}

// Next returns the next record. It returns io.EOF at the end of the stream;
// any other error is sticky.
func (d *Decoder) Next() (*Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := d.start(); err != nil {
		return nil, err
	}

	row, err := d.r.Read()
	if err == io.EOF {
		d.err = io.EOF
		return nil, io.EOF
	}
	if err != nil {
		d.err = fmt.Errorf("codec: read row: %w", err)
		return nil, d.err
	}

	rec := NewRecord()
	for i, name := range d.header {
		if i >= len(row) {
			break
		}
		if row[i] == d.sentinel {
			rec.SetNull(name)
		} else {
			rec.Set(name, row[i])
		}
	}
	return rec, nil
}

func (d *Decoder) start() error {
	if d.started {
		return nil
	}
	if len(d.header) == 0 {
		row, err := d.r.Read()
		if err == io.EOF {
			d.err = io.EOF
			return io.EOF
		}
		if err != nil {
			d.err = fmt.Errorf("codec: read header: %w", err)
			return d.err
		}
		d.header = row
	}
	d.r.FieldsPerRecord = len(d.header)
	d.started = true
	return nil
}
