// Package netchan is a minimal keep-alive HTTP/1.1 client for tile servers.
//
// A Channel owns one socket and serves one request at a time: SendRequest
// writes a GET, ReadResponse scans the header and returns a Body bounded by
// Content-Length, RequestCompleted releases the body and decides whether the
// socket can be reused. A Channel is not safe for concurrent use; each
// worker owns its own.
package netchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

const (
	DefaultMaxRequests = 100
	DefaultIdleTimeout = 10 * time.Second
	DefaultDialTimeout = 30 * time.Second
	DefaultIOTimeout   = 10 * time.Second
	DefaultUserAgent   = "tileloader/1.0"

	// DefaultMaxContentLength bounds a declared body.
	DefaultMaxContentLength = 32 << 20

	bufferSize = 8192
)

var (
	ErrStatus           = fmt.Errorf("%w: unexpected status", tileerr.ErrProtocol)
	ErrStatusLine       = fmt.Errorf("%w: malformed status line", tileerr.ErrProtocol)
	ErrNoContentLength  = fmt.Errorf("%w: missing content-length", tileerr.ErrProtocol)
	ErrContentLength    = fmt.Errorf("%w: invalid content-length", tileerr.ErrProtocol)
	ErrHeaderTooLarge   = fmt.Errorf("%w: header exceeds buffer", tileerr.ErrProtocol)
	ErrRequestPending   = errors.New("previous response not completed")
	ErrUnsupportedProto = errors.New("only http URLs are supported")
)

type Compression string

const (
	CompressionNone    Compression = ""
	CompressionDeflate Compression = "deflate"
	CompressionGzip    Compression = "gzip"
)

// ParseCompression accepts none, deflate, zlib and gzip.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "deflate", "zlib":
		return CompressionDeflate, nil
	case "gzip":
		return CompressionGzip, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

type Config struct {
	// Source names the tile source on metric series.
	Source      string
	// URL is the server base, e.g. http://tiles.example.org:8080/vtm.
	URL         string
	UserAgent   string
	ContentType string
	Headers     map[string]string
	Compression Compression

	MaxRequests      int
	IdleTimeout      time.Duration
	DialTimeout      time.Duration
	IOTimeout        time.Duration
	MaxContentLength int64
}

type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dial = d }
}

// WithClock replaces the clock used for idle accounting.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

type Channel struct {
	cfg      Config
	addr     string
	basePath string
	head     []byte
	tail     []byte

	dial Dialer
	now  func() time.Time
	log  *slog.Logger

	conn        net.Conn
	in          *stream
	scratch     []byte
	remaining   int
	lastRequest time.Time
	mustClose   bool
	body        *Body
	req         []byte
}

// New validates cfg and prepares the request template. No socket is opened
// until the first request.
func New(cfg Config, opts ...Option) (*Channel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse tile url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("tile url %q: %w", cfg.URL, ErrUnsupportedProto)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("tile url %q: missing host", cfg.URL)
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Source == "" {
		cfg.Source = "default"
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	c := &Channel{
		cfg:      cfg,
		addr:     net.JoinHostPort(u.Hostname(), port),
		basePath: strings.TrimSuffix(u.EscapedPath(), "/"),
		now:      time.Now,
		log:      slog.Default(),
		in:       newStream(bufferSize),
		scratch:  make([]byte, bufferSize),
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	c.dial = d.DialContext
	for _, o := range opts {
		o(c)
	}

	c.head = []byte("GET " + c.basePath)
	var tail strings.Builder
	tail.WriteString(" HTTP/1.1\r\n")
	tail.WriteString("User-Agent: " + cfg.UserAgent + "\r\n")
	tail.WriteString("Host: " + u.Host + "\r\n")
	tail.WriteString("Connection: Keep-Alive\r\n")
	if cfg.ContentType != "" {
		tail.WriteString("Accept: " + cfg.ContentType + "\r\n")
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.Headers)) {
		tail.WriteString(k + ": " + cfg.Headers[k] + "\r\n")
	}
	tail.WriteString("\r\n")
	c.tail = []byte(tail.String())
	return c, nil
}

func (c *Channel) connect(ctx context.Context, reason string) error {
	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", tileerr.ErrNetwork, c.addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	observability.IncReconnect(c.cfg.Source, reason)
	c.conn = conn
	c.in.reset(deadlineReader{conn: conn, timeout: c.cfg.IOTimeout})
	c.remaining = c.cfg.MaxRequests
	c.mustClose = false
	return nil
}

func (c *Channel) close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.body = nil
	c.in.reset(nil)
}

// Close tears down the socket.
func (c *Channel) Close() error {
	c.close()
	return nil
}

func (c *Channel) reuseBlocker() string {
	switch {
	case c.conn == nil:
		return "new"
	case c.mustClose:
		return "close_requested"
	case c.remaining <= 0:
		return "max_requests"
	case c.now().Sub(c.lastRequest) > c.cfg.IdleTimeout:
		return "idle"
	case c.in.buffered() > 0:
		return "unread_bytes"
	}
	return ""
}

func (c *Channel) write() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout))
	_, err := c.conn.Write(c.req)
	return err
}

// SendRequest writes a GET for path, relative to the base URL. A write
// failure reconnects once and retries the same request.
func (c *Channel) SendRequest(ctx context.Context, path string) error {
	if c.body != nil {
		return ErrRequestPending
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reason := c.reuseBlocker(); reason != "" {
		c.close()
		if err := c.connect(ctx, reason); err != nil {
			observability.ObserveChannelRequest(c.cfg.Source, "connect_error")
			return err
		}
	}

	c.req = append(c.req[:0], c.head...)
	c.req = append(c.req, path...)
	c.req = append(c.req, c.tail...)

	if err := c.write(); err != nil {
		c.log.Debug("tile request write failed, reconnecting", "addr", c.addr, "err", err)
		c.close()
		if err := c.connect(ctx, "write_error"); err != nil {
			observability.ObserveChannelRequest(c.cfg.Source, "connect_error")
			return err
		}
		if err := c.write(); err != nil {
			c.close()
			observability.ObserveChannelRequest(c.cfg.Source, "write_error")
			return fmt.Errorf("%w: write %s: %w", tileerr.ErrNetwork, c.addr, err)
		}
	}
	c.remaining--
	c.lastRequest = c.now()
	return nil
}

// ReadResponse scans the response header and returns the body. Any error
// closes the socket.
func (c *Channel) ReadResponse() (*Body, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%w: no open connection", tileerr.ErrNetwork)
	}
	length, err := c.readHeader()
	if err != nil {
		c.close()
		observability.ObserveChannelRequest(c.cfg.Source, tileerr.Kind(err) + "_error")
		return nil, err
	}
	b, err := newBody(c, length)
	if err != nil {
		c.close()
		observability.ObserveChannelRequest(c.cfg.Source, "protocol_error")
		return nil, err
	}
	c.body = b
	observability.ObserveChannelRequest(c.cfg.Source, "ok")
	return b, nil
}

func (c *Channel) readHeader() (int64, error) {
	buf := c.scratch
	read, pos, end := 0, 0, -1
	first := true
	length := int64(-1)

	c.in.mark()
	for end < 0 {
		if read == len(buf) {
			return 0, ErrHeaderTooLarge
		}
		n, err := c.in.Read(buf[read:])
		if err != nil {
			if errors.Is(err, errBufferFull) {
				return 0, ErrHeaderTooLarge
			}
			return 0, fmt.Errorf("%w: read header: %w", tileerr.ErrNetwork, err)
		}
		read += n

		for end < 0 {
			i := bytes.IndexByte(buf[pos:read], '\n')
			if i < 0 {
				break
			}
			line := bytes.TrimSuffix(buf[pos:pos+i], []byte{'\r'})
			pos += i + 1
			switch {
			case len(line) == 0:
				end = pos
			case first:
				first = false
				if err := checkStatus(line); err != nil {
					return 0, err
				}
			default:
				name, value, ok := bytes.Cut(line, []byte{':'})
				if !ok {
					continue
				}
				name, value = bytes.TrimSpace(name), bytes.TrimSpace(value)
				switch {
				case bytes.EqualFold(name, []byte("Content-Length")):
					n, err := strconv.ParseUint(string(value), 10, 63)
					if err != nil || int64(n) > c.cfg.MaxContentLength {
						return 0, fmt.Errorf("%w: %q", ErrContentLength, value)
					}
					length = int64(n)
				case bytes.EqualFold(name, []byte("Connection")):
					if bytes.EqualFold(value, []byte("close")) {
						c.mustClose = true
					}
				}
			}
		}
	}
	if first {
		return 0, ErrStatusLine
	}
	if length < 0 {
		return 0, ErrNoContentLength
	}

	c.in.rewind()
	c.in.skip(end)
	return length, nil
}

func checkStatus(line []byte) error {
	proto, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok || !bytes.HasPrefix(proto, []byte("HTTP/1.")) {
		return fmt.Errorf("%w: %q", ErrStatusLine, line)
	}
	code, _, _ := bytes.Cut(bytes.TrimSpace(rest), []byte{' '})
	n, err := strconv.Atoi(string(code))
	if err != nil || len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrStatusLine, line)
	}
	if n < 200 || n > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, n)
	}
	return nil
}

// RequestCompleted ends the current exchange. On success the unread body
// remainder is drained so the socket can carry the next request; on failure
// or when the server asked to close, the socket is torn down.
func (c *Channel) RequestCompleted(ok bool) {
	b := c.body
	c.body = nil
	if b != nil {
		b.release()
	}
	if !ok || c.mustClose || c.conn == nil {
		c.close()
		return
	}
	if b != nil && b.raw.remaining > 0 {
		if err := b.raw.drain(); err != nil {
			c.log.Debug("drain tile body", "addr", c.addr, "err", err)
			c.close()
		}
	}
}

// Connected reports whether a socket is currently open.
func (c *Channel) Connected() bool { return c.conn != nil }
