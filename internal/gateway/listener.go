package gateway

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
	"github.com/oktetlabs/test-environment-sub007/internal/models"
)

const (
	peekSize   = 1024
	listenBack = 128
)

// Listener is the loop channel owning the listening socket of one ACS.
type Listener struct {
	srv       *Server
	acs       *models.Acs
	fd        int
	tlsConfig *tls.Config
}

func listen(srv *Server, acs *models.Acs, tlsConfig *tls.Config) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("acs %s: socket: %w", acs.Name, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("acs %s: SO_REUSEADDR: %w", acs.Name, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: acs.Port}); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, fmt.Errorf("acs %s: port %d: %w", acs.Name, acs.Port, models.ErrConfigConflict)
		}
		return nil, fmt.Errorf("acs %s: bind port %d: %w", acs.Name, acs.Port, err)
	}
	if err := unix.Listen(fd, listenBack); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("acs %s: listen: %w", acs.Name, err)
	}
	return &Listener{srv: srv, acs: acs, fd: fd, tlsConfig: tlsConfig}, nil
}

func (l *Listener) Name() string {
	return "listener:" + l.acs.Name
}

func (l *Listener) BeforePoll(pfd *eventloop.PollFd) error {
	pfd.Fd = l.fd
	pfd.Events = eventloop.PollIn
	return nil
}

// AfterPoll accepts one connection. Accept failures never stop the listener.
func (l *Listener) AfterPoll(pfd *eventloop.PollFd) error {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			log.Warn().Err(fmt.Errorf("%w: %v", ErrAcceptFailed, err)).Str("acs", l.acs.Name).Msg("accept")
		}
		return nil
	}
	peer := sockaddrToTCP(sa)

	if l.tlsConfig != nil {
		if err := l.srv.newSession(l.acs, nfd, peer, l.tlsConfig); err != nil {
			log.Warn().Err(err).Str("acs", l.acs.Name).Msg("cannot start session")
		}
		return nil
	}

	c := &acceptedConn{srv: l.srv, acs: l.acs, fd: nfd, peer: peer}
	if err := l.srv.loop.Add(c); err != nil {
		unix.Close(nfd)
		return nil
	}
	l.srv.peeks[c] = struct{}{}
	return nil
}

func (l *Listener) Destroy() {
	l.close()
}

func (l *Listener) close() {
	if l.fd >= 0 {
		unix.Close(l.fd)
		l.fd = -1
	}
}

// acceptedConn holds a plaintext connection until its request line can be
// checked, then hands the socket to a new session.
type acceptedConn struct {
	srv      *Server
	acs      *models.Acs
	fd       int
	peer     net.Addr
	handover bool
	lowat    bool
}

func (c *acceptedConn) Name() string {
	return "accept:" + c.peer.String()
}

func (c *acceptedConn) BeforePoll(pfd *eventloop.PollFd) error {
	pfd.Fd = c.fd
	pfd.Events = eventloop.PollIn | eventloop.PollRdHup
	return nil
}

func (c *acceptedConn) AfterPoll(pfd *eventloop.PollFd) error {
	var buf [peekSize]byte
	n, _, err := unix.Recvfrom(c.fd, buf[:], unix.MSG_PEEK)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return nil
	}
	if err != nil || n <= 0 {
		return eventloop.ErrRemove
	}

	err = checkRequestLine(buf[:n], c.acs.URL)
	if errors.Is(err, errIncompleteLine) {
		if pfd.Revents&(eventloop.PollRdHup|eventloop.PollHup|eventloop.PollErr) != 0 {
			log.Debug().Err(err).Str("acs", c.acs.Name).Stringer("peer", c.peer).Msg("connection rejected")
			return eventloop.ErrRemove
		}
		// The peeked bytes stay queued; wake up only when more arrive.
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVLOWAT, n+1); err != nil {
			return eventloop.ErrRemove
		}
		c.lowat = true
		return nil
	}
	if err != nil {
		log.Debug().Err(err).Str("acs", c.acs.Name).Stringer("peer", c.peer).Msg("connection rejected")
		return eventloop.ErrRemove
	}

	if c.lowat {
		_ = unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_RCVLOWAT, 1)
	}
	c.handover = true
	if err := c.srv.newSession(c.acs, c.fd, c.peer, nil); err != nil {
		log.Warn().Err(err).Str("acs", c.acs.Name).Msg("cannot start session")
	}
	return eventloop.ErrRemove
}

func (c *acceptedConn) Destroy() {
	delete(c.srv.peeks, c)
	if !c.handover {
		unix.Close(c.fd)
	}
}

var errIncompleteLine = errors.New("incomplete request line")

// checkRequestLine accepts POST or GET whose path starts with prefix. It
// returns errIncompleteLine while the line is shorter than peekSize and not
// yet terminated.
func checkRequestLine(b []byte, prefix string) error {
	line := b
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line = b[:i]
	} else if len(b) < peekSize {
		return errIncompleteLine
	}
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return fmt.Errorf("%w: malformed request line", ErrConnectionRefused)
	}
	if fields[0] != "POST" && fields[0] != "GET" {
		return fmt.Errorf("%w: method %q", ErrConnectionRefused, fields[0])
	}
	if prefix != "" && !strings.HasPrefix(requestPath(fields[1]), prefix) {
		return fmt.Errorf("%w: path %q", ErrConnectionRefused, fields[1])
	}
	return nil
}

// requestPath strips the scheme and host of an absolute request target.
func requestPath(target string) string {
	if i := strings.Index(target, "://"); i >= 0 {
		rest := target[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return target
}

func sockaddrToTCP(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To4(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return &net.TCPAddr{}
}
