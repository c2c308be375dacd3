package netchan

import (
	"errors"
	"io"
	"net"
	"time"
)

var errBufferFull = errors.New("stream buffer full")

// stream is a buffered reader over the socket that can rewind to a mark as
// long as the bytes read since the mark fit in its buffer.
type stream struct {
	r          io.Reader
	buf        []byte
	start, end int
	marked     bool
	markPos    int
}

func newStream(size int) *stream {
	return &stream{buf: make([]byte, size)}
}

func (s *stream) reset(r io.Reader) {
	s.r = r
	s.start, s.end = 0, 0
	s.marked = false
}

func (s *stream) buffered() int { return s.end - s.start }

func (s *stream) mark() {
	s.marked = true
	s.markPos = s.start
}

func (s *stream) rewind() {
	if s.marked {
		s.start = s.markPos
		s.marked = false
	}
}

// skip advances over n bytes that are already buffered.
func (s *stream) skip(n int) {
	s.start += min(n, s.buffered())
}

func (s *stream) fill() error {
	keep := s.start
	if s.marked {
		keep = s.markPos
	}
	if keep > 0 {
		copy(s.buf, s.buf[keep:s.end])
		s.end -= keep
		s.start -= keep
		if s.marked {
			s.markPos = 0
		}
	}
	if s.end == len(s.buf) {
		return errBufferFull
	}
	n, err := s.r.Read(s.buf[s.end:])
	s.end += n
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

func (s *stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.start == s.end {
		if !s.marked && len(p) >= len(s.buf) {
			return s.r.Read(p)
		}
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.buf[s.start:s.end])
	s.start += n
	return n, nil
}

// deadlineReader re-arms the read deadline before every socket read.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (d deadlineReader) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		_ = d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	return d.conn.Read(p)
}
