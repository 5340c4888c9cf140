package bulk

import (
	"context"
	"io"

	"github.com/perrin/forcebulk/internal/codec"
)

// RecordReader is a lazily-decoded record sequence backed by one remote
// byte stream. Close releases the underlying stream.
type RecordReader struct {
	dec *codec.Decoder
	rc  io.ReadCloser
}

// Next returns the next record, or io.EOF at the end of the part.
func (r *RecordReader) Next() (*codec.Record, error) {
	return r.dec.Next()
}

// Close closes the underlying byte stream.
func (r *RecordReader) Close() error {
	return r.rc.Close()
}

// RecordStream is the merged output of a bulk query: the result parts the
// remote reported, concatenated in reported order, each decoded lazily as
// it is consumed. It is not safe for concurrent use.
type RecordStream struct {
	ctx   context.Context
	batch *Batch

	started bool
	parts   []ResultRef
	idx     int
	cur     *RecordReader
	err     error
	eof     bool
}

// Next returns the next record of the merged sequence. It returns false at
// the end of the last part or on error; check Err afterwards.
func (s *RecordStream) Next() (*codec.Record, bool) {
	if s.err != nil || s.eof {
		return nil, false
	}
	if !s.started {
		if !s.start() {
			return nil, false
		}
	}

	for {
		if s.cur == nil {
			if s.idx >= len(s.parts) {
				s.eof = true
				return nil, false
			}
			reader, err := s.batch.Result(s.ctx, s.parts[s.idx].ResultID)
			if err != nil {
				s.err = err
				return nil, false
			}
			s.cur = reader
			s.idx++
		}

		rec, err := s.cur.Next()
		if err == io.EOF {
			s.cur.Close()
			s.cur = nil
			continue
		}
		if err != nil {
			s.err = err
			s.cur.Close()
			s.cur = nil
			return nil, false
		}
		return rec, true
	}
}

// start waits for the query batch to settle and captures its result parts.
func (s *RecordStream) start() bool {
	s.started = true
	result, err := s.batch.Wait(s.ctx)
	if err != nil {
		s.err = err
		return false
	}
	s.parts = result.Parts
	return true
}

// Err reports the failure that ended the stream, if any.
func (s *RecordStream) Err() error {
	return s.err
}

// Close releases any open part stream. The sequence cannot be restarted.
func (s *RecordStream) Close() error {
	s.eof = true
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}
