package eventloop

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Poll event bits, re-exported so channel implementations do not need to
// import x/sys themselves.
const (
	PollIn  = unix.POLLIN
	PollOut = unix.POLLOUT
	PollErr = unix.POLLERR
	PollHup = unix.POLLHUP

	// PollRdHup reports that the peer shut down its sending side.
	PollRdHup = unix.POLLRDHUP
)

var (
	// ErrLoopClosed is returned by Add, Post and Exec once shutdown began.
	ErrLoopClosed = errors.New("event loop closed")

	// ErrRemove may be returned from AfterPoll to drop the channel quietly.
	ErrRemove = errors.New("remove channel")
)

// PollFd describes what a channel waits for during one loop iteration.
// A negative Fd keeps the channel registered but skips it in this poll.
type PollFd struct {
	Fd      int
	Events  int16
	Revents int16
}

// Readable reports whether the poll result allows reading (or signals EOF).
func (p *PollFd) Readable() bool {
	return p.Revents&(PollIn|PollHup|PollErr) != 0
}

// Writable reports whether the poll result allows writing.
func (p *PollFd) Writable() bool {
	return p.Revents&PollOut != 0
}

// Channel is one registration in the loop.
//
// BeforePoll is called exactly once per iteration and fills in the fd and
// events to wait for. AfterPoll runs when the fd reported events; returning
// any error removes the channel. Destroy releases the channel resources and
// is called exactly once, after the channel left the loop.
type Channel interface {
	Name() string
	BeforePoll(pfd *PollFd) error
	AfterPoll(pfd *PollFd) error
	Destroy()
}
