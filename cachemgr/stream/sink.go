package stream

import "github.com/rillfs/rill/download"

// windowSink consumes a complete object from the transport and copies the
// section intersecting the caller's window into the window buffer. With a
// nil window it degenerates to a byte counter.
//
// Write always accounts for the full chunk, even when the chunk lies
// outside the window; the transport must observe every byte as consumed.
type windowSink struct {
	pos    int64
	window []byte
	offset int64
}

var _ download.Sink = (*windowSink)(nil)

func (s *windowSink) Write(p []byte) (int, error) {
	oldPos := s.pos
	s.pos += int64(len(p))

	if s.window == nil {
		return len(p), nil
	}
	windowEnd := s.offset + int64(len(s.window))
	if s.pos <= s.offset || oldPos >= windowEnd {
		return len(p), nil
	}

	copyStart := max(oldPos, s.offset)
	inbufOffset := copyStart - oldPos
	outbufOffset := copyStart - s.offset
	copy(s.window[outbufOffset:], p[inbufOffset:])
	return len(p), nil
}

func (s *windowSink) Reset() error {
	s.pos = 0
	return nil
}

// bytesStreamed returns the total number of object bytes seen, which is
// the object size once the transport reports success.
func (s *windowSink) bytesStreamed() int64 {
	return s.pos
}
