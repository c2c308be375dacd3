package netchan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// fakeServer answers every request on a loopback socket with respond(path).
// A response containing "Connection: close" closes the socket after writing.
type fakeServer struct {
	ln      net.Listener
	accepts atomic.Int32
	respond func(path string) []string

	mu       sync.Mutex
	requests []*http.Request
}

func newFakeServer(t *testing.T, respond func(path string) []string) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, respond: respond}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepts.Add(1)
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		closing := false
		for _, chunk := range s.respond(req.URL.Path) {
			if strings.Contains(chunk, "Connection: close") {
				closing = true
			}
			if _, err := io.WriteString(conn, chunk); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
		if closing {
			return
		}
	}
}

func (s *fakeServer) url() string { return "http://" + s.ln.Addr().String() + "/tiles/" }

func (s *fakeServer) lastRequest(t *testing.T) *http.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request received")
	}
	return s.requests[len(s.requests)-1]
}

func ok(body string) []string {
	return []string{fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)}
}

func newChannel(t *testing.T, cfg Config, opts ...Option) *Channel {
	t.Helper()
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func fetch(t *testing.T, c *Channel, path string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SendRequest(ctx, path); err != nil {
		t.Fatalf("SendRequest(%s): %v", path, err)
	}
	body, err := c.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse(%s): %v", path, err)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	c.RequestCompleted(true)
	return string(b)
}

func TestChannel_ReusesConnection(t *testing.T) {
	srv := newFakeServer(t, func(path string) []string { return ok("tile " + path) })
	c := newChannel(t, Config{URL: srv.url(), UserAgent: "test-agent", Headers: map[string]string{"X-Api-Key": "k"}})

	for i := range 3 {
		path := fmt.Sprintf("/5/%d/3", i)
		if got, want := fetch(t, c, path), "tile /tiles"+path; got != want {
			t.Fatalf("body=%q want %q", got, want)
		}
	}
	if n := srv.accepts.Load(); n != 1 {
		t.Fatalf("accepts=%d want 1", n)
	}

	req := srv.lastRequest(t)
	if req.UserAgent() != "test-agent" {
		t.Fatalf("user agent=%q", req.UserAgent())
	}
	if req.Header.Get("X-Api-Key") != "k" {
		t.Fatalf("missing extra header: %v", req.Header)
	}
	if req.Host != srv.ln.Addr().String() {
		t.Fatalf("host=%q", req.Host)
	}
}

func TestChannel_HeaderSplitAcrossReads(t *testing.T) {
	srv := newFakeServer(t, func(string) []string {
		return []string{"HTTP/1.1 20", "0 OK\r\nConte", "nt-Length: 4\r", "\n\r\nab", "cd"}
	})
	c := newChannel(t, Config{URL: srv.url()})
	if got := fetch(t, c, "/1/0/0"); got != "abcd" {
		t.Fatalf("body=%q", got)
	}
	if got := fetch(t, c, "/1/0/1"); got != "abcd" {
		t.Fatalf("second body=%q", got)
	}
}

func TestChannel_ProtocolErrors(t *testing.T) {
	cases := []struct {
		name string
		resp string
		want error
	}{
		{"not found", "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", ErrStatus},
		{"server error", "HTTP/1.1 503 Busy\r\nContent-Length: 0\r\n\r\n", ErrStatus},
		{"missing length", "HTTP/1.1 200 OK\r\nContent-Type: x\r\n\r\n", ErrNoContentLength},
		{"bad length", "HTTP/1.1 200 OK\r\nContent-Length: abc\r\n\r\n", ErrContentLength},
		{"not http", "SSH-2.0-OpenSSH\r\n\r\n", ErrStatusLine},
		{"header too large", "HTTP/1.1 200 OK\r\nX-Pad: " + strings.Repeat("a", 9000) + "\r\nContent-Length: 0\r\n\r\n", ErrHeaderTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newFakeServer(t, func(string) []string { return []string{tc.resp} })
			c := newChannel(t, Config{URL: srv.url()})
			if err := c.SendRequest(context.Background(), "/0/0/0"); err != nil {
				t.Fatalf("SendRequest: %v", err)
			}
			_, err := c.ReadResponse()
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if !errors.Is(err, tileerr.ErrProtocol) {
				t.Fatalf("err=%v does not wrap ErrProtocol", err)
			}
			if c.Connected() {
				t.Fatal("socket kept open after protocol error")
			}
		})
	}
}

func TestChannel_CaseInsensitiveHeaders(t *testing.T) {
	srv := newFakeServer(t, func(string) []string {
		return []string{"HTTP/1.0 200 OK\ncontent-length:3\n\nxyz"}
	})
	c := newChannel(t, Config{URL: srv.url()})
	if got := fetch(t, c, "/0/0/0"); got != "xyz" {
		t.Fatalf("body=%q", got)
	}
}

func TestChannel_ZlibBody(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write([]byte("compressed tile payload"))
	_ = zw.Close()
	payload := buf.String()

	srv := newFakeServer(t, func(string) []string { return ok(payload) })
	c := newChannel(t, Config{URL: srv.url(), Compression: CompressionDeflate})

	var tee bytes.Buffer
	if err := c.SendRequest(context.Background(), "/2/1/1"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	body, err := c.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body.SetTee(&tee)
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	c.RequestCompleted(true)

	if string(got) != "compressed tile payload" || tee.String() != string(got) {
		t.Fatalf("got=%q tee=%q", got, tee.String())
	}
	if body.ContentLength() != int64(len(payload)) {
		t.Fatalf("content length=%d want %d", body.ContentLength(), len(payload))
	}
	if got := fetch(t, c, "/2/1/2"); got != "compressed tile payload" {
		t.Fatalf("second body=%q", got)
	}
	if n := srv.accepts.Load(); n != 1 {
		t.Fatalf("accepts=%d want 1", n)
	}
}

func TestChannel_MaxRequestsPerSocket(t *testing.T) {
	srv := newFakeServer(t, func(string) []string { return ok("x") })
	c := newChannel(t, Config{URL: srv.url(), MaxRequests: 2})
	for i := range 5 {
		fetch(t, c, fmt.Sprintf("/3/%d/0", i))
	}
	if n := srv.accepts.Load(); n != 3 {
		t.Fatalf("accepts=%d want 3", n)
	}
}

func TestChannel_IdleTimeoutReconnects(t *testing.T) {
	srv := newFakeServer(t, func(string) []string { return ok("x") })
	now := time.Unix(1000, 0)
	c := newChannel(t, Config{URL: srv.url(), IdleTimeout: 10 * time.Second},
		WithClock(func() time.Time { return now }))

	fetch(t, c, "/0/0/0")
	now = now.Add(5 * time.Second)
	fetch(t, c, "/0/0/0")
	if n := srv.accepts.Load(); n != 1 {
		t.Fatalf("accepts=%d want 1 before idle timeout", n)
	}
	now = now.Add(11 * time.Second)
	fetch(t, c, "/0/0/0")
	if n := srv.accepts.Load(); n != 2 {
		t.Fatalf("accepts=%d want 2 after idle timeout", n)
	}
}

func TestChannel_ConnectionClose(t *testing.T) {
	srv := newFakeServer(t, func(string) []string {
		return []string{"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok"}
	})
	c := newChannel(t, Config{URL: srv.url()})
	fetch(t, c, "/0/0/0")
	if c.Connected() {
		t.Fatal("socket kept open after Connection: close")
	}
	fetch(t, c, "/0/0/0")
	if n := srv.accepts.Load(); n != 2 {
		t.Fatalf("accepts=%d want 2", n)
	}
}

func TestChannel_DrainsUnreadBody(t *testing.T) {
	srv := newFakeServer(t, func(path string) []string {
		if path == "/tiles/big" {
			return ok("0123456789")
		}
		return ok("small")
	})
	c := newChannel(t, Config{URL: srv.url()})

	if err := c.SendRequest(context.Background(), "/big"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	body, err := c.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	p := make([]byte, 2)
	if _, err := io.ReadFull(body, p); err != nil {
		t.Fatalf("partial read: %v", err)
	}
	c.RequestCompleted(true)

	if got := fetch(t, c, "/small"); got != "small" {
		t.Fatalf("body after drain=%q", got)
	}
	if n := srv.accepts.Load(); n != 1 {
		t.Fatalf("accepts=%d want 1", n)
	}
}

func TestChannel_FailedRequestClosesSocket(t *testing.T) {
	srv := newFakeServer(t, func(string) []string { return ok("0123456789") })
	c := newChannel(t, Config{URL: srv.url()})

	if err := c.SendRequest(context.Background(), "/a"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if _, err := c.ReadResponse(); err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	c.RequestCompleted(false)
	if c.Connected() {
		t.Fatal("socket kept open after failed request")
	}
	fetch(t, c, "/b")
	if n := srv.accepts.Load(); n != 2 {
		t.Fatalf("accepts=%d want 2", n)
	}
}

func TestChannel_PendingResponseRejectsRequest(t *testing.T) {
	srv := newFakeServer(t, func(string) []string { return ok("x") })
	c := newChannel(t, Config{URL: srv.url()})
	if err := c.SendRequest(context.Background(), "/a"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if _, err := c.ReadResponse(); err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if err := c.SendRequest(context.Background(), "/b"); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("err=%v want ErrRequestPending", err)
	}
}

// failingConn rejects every write.
type failingConn struct{ net.Conn }

func (failingConn) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func newFailingConn() net.Conn {
	a, b := net.Pipe()
	_ = b.Close()
	return failingConn{a}
}

func TestChannel_ReconnectsOnceAfterWriteFailure(t *testing.T) {
	srv := newFakeServer(t, func(string) []string { return ok("recovered") })
	var dials atomic.Int32
	d := &net.Dialer{}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if dials.Add(1) == 1 {
			return newFailingConn(), nil
		}
		return d.DialContext(ctx, network, addr)
	}
	c := newChannel(t, Config{URL: srv.url()}, WithDialer(dial))

	if got := fetch(t, c, "/0/0/0"); got != "recovered" {
		t.Fatalf("body=%q", got)
	}
	if n := dials.Load(); n != 2 {
		t.Fatalf("dials=%d want 2", n)
	}
}

func TestChannel_WriteFailureTwiceIsNetworkError(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context, string, string) (net.Conn, error) {
		dials.Add(1)
		return newFailingConn(), nil
	}
	c := newChannel(t, Config{URL: "http://tiles.invalid/"}, WithDialer(dial))

	err := c.SendRequest(context.Background(), "/0/0/0")
	if !errors.Is(err, tileerr.ErrNetwork) {
		t.Fatalf("err=%v want ErrNetwork", err)
	}
	if n := dials.Load(); n != 2 {
		t.Fatalf("dials=%d want 2", n)
	}
	if c.Connected() {
		t.Fatal("socket kept open after write failure")
	}
}

func TestChannel_DialFailure(t *testing.T) {
	dial := func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c := newChannel(t, Config{URL: "http://tiles.invalid"}, WithDialer(dial))
	if err := c.SendRequest(context.Background(), "/0/0/0"); !errors.Is(err, tileerr.ErrNetwork) {
		t.Fatalf("err=%v want ErrNetwork", err)
	}
}

func TestNew_RejectsBadURLs(t *testing.T) {
	for _, u := range []string{"https://tiles.example.org/", "ftp://x/", "http:///nohost", "::bad"} {
		if _, err := New(Config{URL: u}); err == nil {
			t.Errorf("New(%q) accepted", u)
		}
	}
}

func TestParseCompression(t *testing.T) {
	cases := map[string]Compression{"": CompressionNone, "none": CompressionNone, "zlib": CompressionDeflate, "Deflate": CompressionDeflate, "gzip": CompressionGzip}
	for in, want := range cases {
		got, err := ParseCompression(in)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseCompression("brotli"); err == nil {
		t.Error("brotli accepted")
	}
}
