package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tevino/abool"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeout bounds how long one poll may sleep.
const DefaultPollTimeout = 500 * time.Millisecond

// Options tune a Loop.
type Options struct {
	// PollTimeout bounds a single wait so shutdown latency stays bounded.
	PollTimeout time.Duration
	// Persistent loops keep running with no channels registered, waiting
	// for posted work. Otherwise Run returns once the last channel is gone.
	Persistent bool
}

type entry struct {
	ch      Channel
	pfd     PollFd
	removed bool
}

// Loop is a single-threaded poll multiplexer.
//
// Add and Remove must be called from the loop goroutine (or before Run).
// Post, Exec and Stop are safe from any goroutine.
type Loop struct {
	timeout    time.Duration
	persistent bool

	entries     []*entry
	dispatching bool

	stopping *abool.AtomicBool
	closed   *abool.AtomicBool
	quit     chan struct{}

	wakeR, wakeW int

	mu     sync.Mutex
	posted []func()
}

// New creates a loop and its wake pipe.
func New(opts Options) (*Loop, error) {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}

	return &Loop{
		timeout:    opts.PollTimeout,
		persistent: opts.Persistent,
		stopping:   abool.New(),
		closed:     abool.New(),
		quit:       make(chan struct{}),
		wakeR:      p[0],
		wakeW:      p[1],
	}, nil
}

// Add registers a channel. It is polled starting with the next iteration.
func (l *Loop) Add(ch Channel) error {
	if l.stopping.IsSet() || l.closed.IsSet() {
		return ErrLoopClosed
	}
	l.entries = append(l.entries, &entry{ch: ch})
	return nil
}

// Remove unregisters a channel. During dispatch the channel is destroyed
// after the whole ready set was serviced; otherwise immediately.
func (l *Loop) Remove(ch Channel) {
	for i, e := range l.entries {
		if e.ch != ch || e.removed {
			continue
		}
		if l.dispatching {
			e.removed = true
			return
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		ch.Destroy()
		return
	}
}

// Len returns the number of live channels.
func (l *Loop) Len() int {
	n := 0
	for _, e := range l.entries {
		if !e.removed {
			n++
		}
	}
	return n
}

// Stop latches a stop request; Run returns after the current iteration.
func (l *Loop) Stop() {
	l.stopping.Set()
	l.wake()
}

// Stopped reports whether the loop has fully shut down.
func (l *Loop) Stopped() bool {
	return l.closed.IsSet()
}

// Post schedules fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) error {
	if l.closed.IsSet() {
		return ErrLoopClosed
	}
	l.mu.Lock()
	if l.closed.IsSet() {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.wake()
	return nil
}

const (
	execPending int32 = iota
	execStarted
	execAbandoned
)

// Exec runs fn on the loop goroutine and waits for it to finish.
// It must not be called from the loop goroutine itself. When Exec returns
// an error fn has not run and never will.
func (l *Loop) Exec(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	if err := l.Post(func() {
		if ctx.Err() != nil || !state.CompareAndSwap(execPending, execStarted) {
			return
		}
		fn()
		close(done)
	}); err != nil {
		return err
	}

	var err error
	select {
	case <-done:
		return nil
	case <-l.quit:
		err = ErrLoopClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	if state.CompareAndSwap(execPending, execAbandoned) {
		return err
	}
	// fn already started; it finishes before the loop can quit
	<-done
	return nil
}

// Run drives the loop until a stop is requested, ctx is done, or (for
// non-persistent loops) no channels remain. All channels still registered
// are destroyed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.closed.IsSet() {
		return ErrLoopClosed
	}

	if ctx != nil {
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-ctx.Done():
				l.Stop()
			case <-finished:
			}
		}()
	}

	defer l.shutdown()

	fds := make([]unix.PollFd, 0, 16)
	for {
		if l.stopping.IsSet() {
			return nil
		}
		if !l.persistent && l.Len() == 0 && !l.hasPosted() {
			return nil
		}
		if err := l.iterate(&fds); err != nil {
			return err
		}
	}
}

func (l *Loop) iterate(fds *[]unix.PollFd) error {
	active := l.entries[:len(l.entries):len(l.entries)]

	*fds = append((*fds)[:0], unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})

	l.dispatching = true
	for _, e := range active {
		e.pfd = PollFd{Fd: -1}
		if !e.removed {
			if err := e.ch.BeforePoll(&e.pfd); err != nil {
				log.Debug().Err(err).Str("channel", e.ch.Name()).Msg("before poll failed, removing channel")
				e.removed = true
				e.pfd.Fd = -1
			}
		}
		*fds = append(*fds, unix.PollFd{Fd: int32(e.pfd.Fd), Events: e.pfd.Events})
	}

	n, err := unix.Poll(*fds, int(l.timeout/time.Millisecond))
	if err != nil && !errors.Is(err, unix.EINTR) {
		l.dispatching = false
		return fmt.Errorf("poll: %w", err)
	}

	if n > 0 {
		for i, e := range active {
			revents := (*fds)[i+1].Revents
			if e.removed || e.pfd.Fd < 0 || revents == 0 {
				continue
			}
			e.pfd.Revents = revents
			if err := e.ch.AfterPoll(&e.pfd); err != nil {
				if !errors.Is(err, ErrRemove) {
					log.Debug().Err(err).Str("channel", e.ch.Name()).Msg("channel closed")
				}
				e.removed = true
			}
		}
		if (*fds)[0].Revents != 0 {
			l.drainWake()
		}
	}

	l.runPosted()
	l.dispatching = false
	l.reap()
	return nil
}

func (l *Loop) reap() {
	kept := l.entries[:0]
	var dead []*entry
	for _, e := range l.entries {
		if e.removed {
			dead = append(dead, e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept

	for _, e := range dead {
		e.ch.Destroy()
	}
}

func (l *Loop) hasPosted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.posted) > 0
}

func (l *Loop) runPosted() {
	l.mu.Lock()
	work := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range work {
		fn()
	}
}

func (l *Loop) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wakeW >= 0 {
		_, _ = unix.Write(l.wakeW, []byte{1})
	}
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (l *Loop) shutdown() {
	l.stopping.Set()
	l.mu.Lock()
	l.closed.Set()
	l.mu.Unlock()

	entries := l.entries
	l.entries = nil
	for _, e := range entries {
		e.ch.Destroy()
	}

	l.mu.Lock()
	l.posted = nil
	unix.Close(l.wakeR)
	unix.Close(l.wakeW)
	l.wakeR, l.wakeW = -1, -1
	l.mu.Unlock()

	close(l.quit)
}
