package gateway

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// errWouldBlock is returned by a transport when the socket has nothing to
// read or cannot take more bytes right now.
var errWouldBlock = errors.New("operation would block")

// transport moves bytes for one session over a non-blocking socket.
type transport interface {
	// Read returns errWouldBlock when nothing is buffered and io.EOF when
	// the peer closed.
	Read(p []byte) (int, error)
	// Write may write a prefix of p and return errWouldBlock.
	Write(p []byte) (int, error)
	Close() error
}

type plainTransport struct {
	fd int
}

func (t *plainTransport) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(t.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errWouldBlock
		}
		return 0, err
	}
}

func (t *plainTransport) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(t.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, errWouldBlock
		}
		return 0, err
	}
}

func (t *plainTransport) Close() error {
	return unix.Close(t.fd)
}

// tlsTransport terminates TLS off the loop. A pump goroutine owns the client
// socket and the TLS state and relays plaintext through a socket pair, so the
// loop reads and writes the session like a plaintext one and never waits on a
// handshake or a slow peer.
type tlsTransport struct {
	plainTransport
	failure atomic.Pointer[error]
}

// newTLSTransport takes ownership of fd, also on error.
func newTLSTransport(fd int, cfg *tls.Config, handshakeTimeout, writeTimeout time.Duration) (*tlsTransport, error) {
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: socketpair: %v", ErrIO, err)
	}
	raw, err := fileConn(fd, "cwmp-tls")
	if err != nil {
		unix.Close(pair[0])
		unix.Close(pair[1])
		return nil, err
	}
	inner, err := fileConn(pair[1], "cwmp-plain")
	if err != nil {
		raw.Close()
		unix.Close(pair[0])
		return nil, err
	}

	t := &tlsTransport{plainTransport: plainTransport{fd: pair[0]}}
	go t.pump(tls.Server(raw, cfg), inner, handshakeTimeout, writeTimeout)
	return t, nil
}

// fileConn hands fd to the runtime poller. fd itself is closed; the returned
// conn owns a duplicate.
func fileConn(fd int, name string) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, name, err)
	}
	return c, nil
}

func (t *tlsTransport) pump(conn *tls.Conn, inner net.Conn, handshakeTimeout, writeTimeout time.Duration) {
	defer inner.Close()
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.Handshake(); err != nil {
		t.fail(fmt.Errorf("%w: %v", ErrTLSHandshake, err))
		return
	}
	_ = conn.SetDeadline(time.Time{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(inner, conn)
		if cw, ok := inner.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	if _, err := io.Copy(deadlineWriter{conn: conn, timeout: writeTimeout}, inner); err != nil {
		t.fail(fmt.Errorf("%w: tls write: %v", ErrIO, err))
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.CloseWrite()
	}
	conn.Close()
	<-done
}

func (t *tlsTransport) fail(err error) {
	t.failure.CompareAndSwap(nil, &err)
}

func (t *tlsTransport) err() error {
	if p := t.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Read reports why the pump stopped instead of a bare EOF.
func (t *tlsTransport) Read(p []byte) (int, error) {
	n, err := t.plainTransport.Read(p)
	if errors.Is(err, io.EOF) {
		if ferr := t.err(); ferr != nil {
			return 0, ferr
		}
	}
	return n, err
}

func (t *tlsTransport) Write(p []byte) (int, error) {
	n, err := t.plainTransport.Write(p)
	if err != nil && !errors.Is(err, errWouldBlock) {
		if ferr := t.err(); ferr != nil {
			return n, ferr
		}
	}
	return n, err
}

type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.Write(p)
}
