package netchan

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// rawBody reads at most remaining bytes from the socket stream.
type rawBody struct {
	in        *stream
	remaining int64
	source    string
}

func (r *rawBody) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.in.Read(p)
	r.remaining -= int64(n)
	observability.AddChannelBytes(r.source, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, fmt.Errorf("%w: read body: %w", tileerr.ErrNetwork, err)
	}
	return n, nil
}

func (r *rawBody) drain() error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// Body is the payload of one response. It ends with io.EOF after
// Content-Length bytes of the wire body, decompressed if configured.
type Body struct {
	raw    *rawBody
	length int64
	r      io.Reader
	closer io.Closer
	tee    io.Writer
}

func newBody(c *Channel, length int64) (*Body, error) {
	b := &Body{raw: &rawBody{in: c.in, remaining: length, source: c.cfg.Source}, length: length}
	b.r = b.raw
	if length == 0 {
		return b, nil
	}
	switch c.cfg.Compression {
	case CompressionDeflate:
		zr, err := zlib.NewReader(b.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: zlib header: %w", tileerr.ErrProtocol, err)
		}
		b.r, b.closer = zr, zr
	case CompressionGzip:
		gr, err := gzip.NewReader(b.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %w", tileerr.ErrProtocol, err)
		}
		b.r, b.closer = gr, gr
	}
	return b, nil
}

// ContentLength is the wire length declared by the server.
func (b *Body) ContentLength() int64 { return b.length }

// SetTee copies every byte returned by Read to w. Used to fill the second
// level store while decoding.
func (b *Body) SetTee(w io.Writer) { b.tee = w }

func (b *Body) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if n > 0 && b.tee != nil {
		if _, werr := b.tee.Write(p[:n]); werr != nil {
			b.tee = nil
		}
	}
	return n, err
}

func (b *Body) release() {
	if b.closer != nil {
		_ = b.closer.Close()
		b.closer = nil
	}
}
