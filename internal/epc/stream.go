package epc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/oktetlabs/test-environment-sub007/internal/eventloop"
)

const streamReadSize = 64 << 10

// StreamListener is the loop channel accepting EPC peers on a unix stream
// socket. Each accepted peer becomes its own channel.
type StreamListener struct {
	loop *eventloop.Loop
	disp *Dispatcher
	path string
	fd   int
	next int
}

// Listen binds path, removing a stale socket file, and registers the
// listener on loop.
func Listen(loop *eventloop.Loop, disp *Dispatcher, path string) (*StreamListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("epc socket %s: %w", path, err)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("epc socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("epc bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("epc listen %s: %w", path, err)
	}

	l := &StreamListener{loop: loop, disp: disp, path: path, fd: fd}
	if err := loop.Add(l); err != nil {
		l.Destroy()
		return nil, err
	}
	log.Info().Str("path", path).Msg("EPC socket listening")
	return l, nil
}

// Path returns the socket path.
func (l *StreamListener) Path() string {
	return l.path
}

func (l *StreamListener) Name() string {
	return "epc-listener"
}

func (l *StreamListener) BeforePoll(pfd *eventloop.PollFd) error {
	pfd.Fd = l.fd
	pfd.Events = eventloop.PollIn
	return nil
}

func (l *StreamListener) AfterPoll(pfd *eventloop.PollFd) error {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			log.Warn().Err(err).Msg("EPC accept")
		}
		return nil
	}
	l.next++
	c := &streamConn{disp: l.disp, fd: nfd, id: l.next}
	if err := l.loop.Add(c); err != nil {
		unix.Close(nfd)
		return nil
	}
	log.Debug().Int("peer", c.id).Msg("EPC peer connected")
	return nil
}

func (l *StreamListener) Destroy() {
	if l.fd >= 0 {
		unix.Close(l.fd)
		l.fd = -1
		os.Remove(l.path)
	}
}

// streamConn serves one EPC peer. Requests are handled in arrival order;
// partial reads and writes resume on the next readiness event.
type streamConn struct {
	disp *Dispatcher
	fd   int
	id   int
	rd   FrameReader
	wr   FrameWriter
	buf  []byte
	eof  bool
}

func (c *streamConn) Name() string {
	return "epc:" + strconv.Itoa(c.id)
}

func (c *streamConn) BeforePoll(pfd *eventloop.PollFd) error {
	pfd.Fd = c.fd
	pfd.Events = 0
	// a closed read side stays readable; only the pending replies matter
	if !c.eof {
		pfd.Events = eventloop.PollIn
	}
	if c.wr.Pending() > 0 {
		pfd.Events |= eventloop.PollOut
	}
	return nil
}

func (c *streamConn) AfterPoll(pfd *eventloop.PollFd) error {
	if pfd.Readable() {
		if err := c.receive(); err != nil {
			log.Warn().Err(err).Int("peer", c.id).Msg("EPC read")
			return eventloop.ErrRemove
		}
		for {
			frame, err := c.rd.Next()
			if err != nil {
				log.Warn().Err(err).Int("peer", c.id).Msg("EPC framing")
				return eventloop.ErrRemove
			}
			if frame == nil {
				break
			}
			if err := c.wr.Queue(c.disp.HandleFrame(frame)); err != nil {
				log.Warn().Err(err).Int("peer", c.id).Msg("EPC reply")
				return eventloop.ErrRemove
			}
		}
	}

	if err := c.wr.Flush(c.write); err != nil && !errors.Is(err, unix.EAGAIN) {
		log.Warn().Err(err).Int("peer", c.id).Msg("EPC write")
		return eventloop.ErrRemove
	}
	if c.eof && c.wr.Pending() == 0 {
		log.Debug().Int("peer", c.id).Msg("EPC peer disconnected")
		return eventloop.ErrRemove
	}
	return nil
}

func (c *streamConn) receive() error {
	if c.buf == nil {
		c.buf = make([]byte, streamReadSize)
	}
	for {
		n, err := unix.Read(c.fd, c.buf)
		switch {
		case err == nil && n == 0:
			c.eof = true
			return nil
		case err == nil:
			c.rd.Feed(c.buf[:n])
		case errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
		default:
			return err
		}
	}
}

func (c *streamConn) write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if n < 0 {
		n = 0
	}
	if errors.Is(err, unix.EINTR) {
		return n, unix.EAGAIN
	}
	if err == nil && n == 0 {
		return 0, io.ErrShortWrite
	}
	return n, err
}

func (c *streamConn) Destroy() {
	unix.Close(c.fd)
}
